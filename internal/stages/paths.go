// Package stages implements the eight pipeline stages. Every stage reads and
// writes files at fixed paths under the data root; the sequencer wires them
// together.
package stages

import (
	"path/filepath"
	"strings"
)

// Directory and file layout under the data root.
const (
	RawDataDir   = "Raw Data"
	CodedDataDir = "Coded Coda Files"
	OutputsDir   = "Outputs"
	LogsDir      = "Logs"
	BackupsDir   = "Backups"

	ProductionCSV          = "Outputs/production.csv"
	MessagesCSV            = "Outputs/messages.csv"
	IndividualsCSV         = "Outputs/individuals.csv"
	MessagesTracedJSONL    = "Outputs/messages_traced_data.jsonl"
	IndividualsTracedJSONL = "Outputs/individuals_traced_data.jsonl"
	ICRDir                 = "Outputs/ICR"
	CodaFilesDir           = "Outputs/Coda Files"
	AnalysisDir            = "Outputs/Automated Analysis"
)

// DatasetName strips the _raw suffix from an activation pipeline key, giving
// the coding-tool dataset name for that episode.
func DatasetName(activationKey string) string {
	return strings.TrimSuffix(activationKey, "_raw")
}

// CodedKey is the pipeline field the coding tool's labels land in.
func CodedKey(activationKey string) string {
	return DatasetName(activationKey) + "_coded"
}

func rawFlowFile(flowName string) string {
	return filepath.Join(RawDataDir, flowName+".json")
}

func codedDatasetFile(datasetName string) string {
	return filepath.Join(CodedDataDir, datasetName+".json")
}

func codaOutputFile(datasetName string) string {
	return filepath.Join(CodaFilesDir, datasetName+".json")
}
