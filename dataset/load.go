package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	dan "github.com/diyapatel231/HWDan"
)

// LoadQuestions reads question records from a JSON file: either a single
// JSON array of objects or newline-delimited JSON objects.
func LoadQuestions(path string) ([]dan.Question, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open questions file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read questions file %s: %w", path, err)
	}

	var records []dan.Question
	if delim, ok := tok.(json.Delim); ok && delim == '[' {
		for dec.More() {
			var rec dan.Question
			if err := dec.Decode(&rec); err != nil {
				return nil, fmt.Errorf("decode question %d in %s: %w", len(records), path, err)
			}
			records = append(records, rec)
		}
		return records, nil
	}

	// Not an array: reopen and treat as JSON lines.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind questions file: %w", err)
	}
	dec = json.NewDecoder(f)
	for {
		var rec dan.Question
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("decode question %d in %s: %w", len(records), path, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
