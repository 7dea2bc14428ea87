package gemini

// ExtractionPrompt instructs the model to transcribe a solar production log.
const ExtractionPrompt = `
Analyze this image of a solar production log or meter reading. Extract all solar energy readings visible.

For each reading, identify:
1. Date (format as YYYY-MM-DD)
2. Time if visible (format as HH:MM, 24-hour)
3. m1: Primary meter reading in kWh
4. m2: Secondary meter reading in kWh (if present)
5. Any notes or additional info visible

Return a JSON array with this exact format:
[
  {"date": "2025-01-15", "time": "09:00", "m1": 45.5, "m2": null, "notes": "morning reading"},
  {"date": "2025-01-16", "time": null, "m1": 52.3, "m2": 12.1, "notes": null}
]

Important:
- Only return the JSON array, no other text
- If no readings can be extracted, return an empty array: []
- Date format must be YYYY-MM-DD
- m1 is required for each reading
`
