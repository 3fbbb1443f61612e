package tools

import "encoding/json"

// Tool parameter schemas, declared per spec.md §4.5. Kept as raw JSON
// Schema literals rather than struct-reflected schemas since the set is
// small and fixed — grounded in the teacher's preference for explicit,
// hand-written SQL over query builders (same "write it out" bias).
var (
	schemaNoArgs = json.RawMessage(`{"type":"object","properties":{}}`)

	schemaResponseHistory = json.RawMessage(`{
		"type": "object",
		"properties": {
			"limit": {"type": "integer", "minimum": 1, "maximum": 10},
			"offset": {"type": "integer", "minimum": 0}
		},
		"required": ["limit", "offset"]
	}`)

	schemaProposeInterval = json.RawMessage(`{
		"type": "object",
		"properties": {
			"intervalMs": {"type": "integer", "minimum": 1},
			"ttlMinutes": {"type": "integer", "minimum": 1},
			"reason": {"type": "string"}
		},
		"required": ["intervalMs", "ttlMinutes"]
	}`)

	schemaProposeNextTime = json.RawMessage(`{
		"type": "object",
		"properties": {
			"nextRunAtIso": {"type": "string", "format": "date-time"},
			"ttlMinutes": {"type": "integer", "minimum": 1},
			"reason": {"type": "string"}
		},
		"required": ["nextRunAtIso", "ttlMinutes"]
	}`)

	schemaPauseUntil = json.RawMessage(`{
		"type": "object",
		"properties": {
			"untilIso": {"type": ["string", "null"], "format": "date-time"},
			"reason": {"type": "string"}
		}
	}`)

	schemaClearHints = json.RawMessage(`{
		"type": "object",
		"properties": {
			"reason": {"type": "string"}
		},
		"required": ["reason"]
	}`)

	schemaSubmitAnalysis = json.RawMessage(`{
		"type": "object",
		"properties": {
			"reasoning": {"type": "string"},
			"actions_taken": {"type": "string"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"next_analysis_in_ms": {"type": "integer", "minimum": 300000, "maximum": 86400000}
		},
		"required": ["reasoning"]
	}`)
)
