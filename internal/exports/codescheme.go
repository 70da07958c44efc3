// Package exports builds contact lists from previously generated traced
// datasets: respondents in target locations and weekly advert audiences.
package exports

import (
	"encoding/json"
	"fmt"
	"os"
)

// Code is one entry of a coding scheme.
type Code struct {
	CodeID      string `json:"CodeID"`
	DisplayText string `json:"DisplayText"`
	StringValue string `json:"StringValue"`
}

// CodeScheme is the coding tool's scheme document, mapping opaque code ids to
// human-readable values.
type CodeScheme struct {
	SchemeID string `json:"SchemeID"`
	Name     string `json:"Name"`
	Codes    []Code `json:"Codes"`

	byID map[string]Code
}

// LoadCodeScheme reads a code scheme JSON file.
func LoadCodeScheme(path string) (*CodeScheme, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read code scheme: %w", err)
	}
	return ParseCodeScheme(raw)
}

// ParseCodeScheme decodes a scheme document and indexes its codes.
func ParseCodeScheme(raw []byte) (*CodeScheme, error) {
	var scheme CodeScheme
	if err := json.Unmarshal(raw, &scheme); err != nil {
		return nil, fmt.Errorf("decode code scheme: %w", err)
	}
	if scheme.SchemeID == "" {
		return nil, fmt.Errorf("code scheme is missing SchemeID")
	}
	scheme.byID = make(map[string]Code, len(scheme.Codes))
	for _, code := range scheme.Codes {
		if code.CodeID == "" {
			return nil, fmt.Errorf("code scheme %s has a code with no CodeID", scheme.SchemeID)
		}
		if _, dup := scheme.byID[code.CodeID]; dup {
			return nil, fmt.Errorf("code scheme %s has duplicate CodeID %s", scheme.SchemeID, code.CodeID)
		}
		scheme.byID[code.CodeID] = code
	}
	return &scheme, nil
}

// StringValue resolves a code id to its string value.
func (s *CodeScheme) StringValue(codeID string) (string, bool) {
	code, ok := s.byID[codeID]
	return code.StringValue, ok
}
