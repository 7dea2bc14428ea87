// Package extraction defines the port through which the pool turns an image
// of a handwritten solar log into structured readings. It abstracts the
// details of the vision model integration (Gemini) so the processing
// coordinator never depends on a specific external service.
package extraction
