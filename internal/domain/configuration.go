package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PipelineConfiguration describes one survey deployment: where raw data comes
// from, how external field names map onto pipeline names, which respondents
// are test contacts, and where outputs go.
type PipelineConfiguration struct {
	PipelineName       string          `json:"PipelineName"`
	RawDataSources     []RawDataSource `json:"RawDataSources"`
	UIDTable           UIDTableRef     `json:"UidTable"`
	KeyRemappings      []RemappingRule `json:"RapidProKeyRemappings"`
	ProjectStartDate   time.Time       `json:"ProjectStartDate"`
	ProjectEndDate     time.Time       `json:"ProjectEndDate"`
	FilterTestMessages bool            `json:"FilterTestMessages"`
	UploadTargets      UploadTargets   `json:"UploadTargets"`
}

// RawDataSource names the flows to pull from one messaging platform workspace.
type RawDataSource struct {
	SourceName          string   `json:"SourceName"`
	ActivationFlowNames []string `json:"ActivationFlowNames"`
	SurveyFlowNames     []string `json:"SurveyFlowNames"`
	TestContactIDs      []string `json:"TestContactUuids"`
}

// UIDTableRef points at the persisted contact-identity table for this project.
type UIDTableRef struct {
	TableName string `json:"TableName"`
	UIDPrefix string `json:"UuidPrefix"`
}

// UploadTargets are the object-store destinations for run outputs.
type UploadTargets struct {
	UploadsPrefix string `json:"UploadsPrefix"`
	LogsPrefix    string `json:"LogsPrefix"`
	ArchivePrefix string `json:"ArchivePrefix"`
}

func (c PipelineConfiguration) Validate() error {
	if strings.TrimSpace(c.PipelineName) == "" {
		return errors.New("pipeline name is required")
	}
	if len(c.RawDataSources) == 0 {
		return errors.New("at least one raw data source is required")
	}
	for i, source := range c.RawDataSources {
		if err := source.Validate(); err != nil {
			return fmt.Errorf("raw data source %d: %w", i, err)
		}
	}
	if err := c.UIDTable.Validate(); err != nil {
		return fmt.Errorf("uid table: %w", err)
	}
	if c.ProjectStartDate.IsZero() {
		return errors.New("project start date is required")
	}
	if c.ProjectEndDate.IsZero() {
		return errors.New("project end date is required")
	}
	if !c.ProjectEndDate.After(c.ProjectStartDate) {
		return errors.New("project end date must be after project start date")
	}
	return nil
}

func (s RawDataSource) Validate() error {
	if strings.TrimSpace(s.SourceName) == "" {
		return errors.New("source name is required")
	}
	if len(s.ActivationFlowNames) == 0 && len(s.SurveyFlowNames) == 0 {
		return errors.New("at least one flow name is required")
	}
	return nil
}

func (t UIDTableRef) Validate() error {
	if strings.TrimSpace(t.TableName) == "" {
		return errors.New("table name is required")
	}
	if strings.TrimSpace(t.UIDPrefix) == "" {
		return errors.New("uid prefix is required")
	}
	return nil
}

// InWindow reports whether an observation timestamp falls inside the
// project's date window. The window is inclusive at both ends.
func (c PipelineConfiguration) InWindow(t time.Time) bool {
	if t.Before(c.ProjectStartDate) {
		return false
	}
	if t.After(c.ProjectEndDate) {
		return false
	}
	return true
}

// IsTestContact reports whether a raw contact id belongs to a test device.
func (c PipelineConfiguration) IsTestContact(rawContactID string) bool {
	for _, source := range c.RawDataSources {
		for _, id := range source.TestContactIDs {
			if id == rawContactID {
				return true
			}
		}
	}
	return false
}

// FlowNames returns every flow named by the configuration's sources, in
// declaration order.
func (c PipelineConfiguration) FlowNames() []string {
	names := make([]string, 0)
	for _, source := range c.RawDataSources {
		names = append(names, source.ActivationFlowNames...)
		names = append(names, source.SurveyFlowNames...)
	}
	return names
}
