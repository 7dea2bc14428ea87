// Package gemini implements extraction.Extractor on top of Google's Gemini
// vision models via google.golang.org/genai.
//
// Calls are retried with exponential backoff and jitter when the failure is
// transient (rate limiting, server errors, network errors). Safety blocks and
// unparseable responses are permanent and returned immediately.
package gemini
