package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ResultRecord is the structured result message the agent appends to its
// stream-json transcript. The last record of type "result" in a transcript
// is authoritative for that invocation's outcome.
type ResultRecord struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	NumTurns  int    `json:"num_turns"`
}

// ParseTranscript reads a line-delimited transcript and returns all decoded
// records plus the last result record, or nil if none exists. Undecodable
// lines are skipped; the transcript is agent output, not engine state.
func ParseTranscript(path string) ([]json.RawMessage, *ResultRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	var records []json.RawMessage
	var result *ResultRecord

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			continue
		}
		records = append(records, json.RawMessage(line))

		var rec ResultRecord
		if err := json.Unmarshal([]byte(line), &rec); err == nil && rec.Type == "result" {
			r := rec
			result = &r
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scanning transcript: %w", err)
	}

	return records, result, nil
}

// ConvertTranscript writes the transcript's records as a JSON array file
// next to the JSONL original, for tooling that cannot read line-delimited
// JSON. Returns the path of the created file.
func ConvertTranscript(jsonlPath string) (string, error) {
	records, _, err := ParseTranscript(jsonlPath)
	if err != nil {
		return "", err
	}

	jsonPath := strings.TrimSuffix(jsonlPath, ".jsonl") + ".json"
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding transcript: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", fmt.Errorf("writing transcript: %w", err)
	}
	return jsonPath, nil
}
