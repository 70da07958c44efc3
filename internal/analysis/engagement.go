package analysis

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/surveyline-labs/surveyline-go/internal/traced"
)

// ConsentWithdrawnKey marks respondents who opted out; their records are
// retained on disk but excluded from every reported count.
const ConsentWithdrawnKey = "consent_withdrawn"

// Codes treated as non-substantive when deciding relevance.
const (
	CodeStop        = "STOP"
	CodeNotCoded    = "NC"
	CodeWrongSurvey = "WS"
)

// Field names of the per-message dataset. Message records carry the episode
// they belong to and the label merged from the coding tool, rather than the
// per-episode raw/coded fields individuals use.
const (
	MessageDatasetKey = "dataset"
	MessageCodedKey   = "coded"
)

// EngagementRow is one line of the engagement counts report.
type EngagementRow struct {
	Episode              string
	Messages             int
	MessagesWithOptIns   int
	LabelledMessages     int
	RelevantMessages     int
	Participants         int
	ParticipantsOptIns   int
	RelevantParticipants int
}

// EngagementCounts computes per-episode and total engagement. Messages are
// attributed to episodes through their dataset field; individuals through the
// plan's per-episode raw and coded fields.
func EngagementCounts(messages, individuals []traced.Record, plan Plan) []EngagementRow {
	rows := make([]EngagementRow, 0, len(plan.Datasets)+1)
	for _, dataset := range plan.Datasets {
		episode := messagesFor(messages, dataset.Name)
		rows = append(rows, EngagementRow{
			Episode:              dataset.Name,
			Messages:             len(episode),
			MessagesWithOptIns:   countMessageOptIns(episode),
			LabelledMessages:     countMessagesLabelled(episode),
			RelevantMessages:     countMessagesRelevant(episode),
			Participants:         countWithField(individuals, dataset.RawField),
			ParticipantsOptIns:   countOptIns(individuals, []DatasetPlan{dataset}),
			RelevantParticipants: countRelevant(individuals, []DatasetPlan{dataset}),
		})
	}
	rows = append(rows, EngagementRow{
		Episode:              "Total",
		Messages:             len(messages),
		MessagesWithOptIns:   countMessageOptIns(messages),
		LabelledMessages:     countMessagesLabelled(messages),
		RelevantMessages:     countMessagesRelevant(messages),
		Participants:         len(individuals),
		ParticipantsOptIns:   countOptIns(individuals, plan.Datasets),
		RelevantParticipants: countRelevant(individuals, plan.Datasets),
	})
	return rows
}

// WriteEngagementCSV writes the engagement report.
func WriteEngagementCSV(path string, rows []EngagementRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create analysis dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"Episode",
		"Total Messages", "Total Messages with Opt-Ins", "Total Labelled Messages", "Total Relevant Messages",
		"Total Participants", "Total Participants with Opt-Ins", "Total Relevant Participants",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.Episode,
			strconv.Itoa(row.Messages), strconv.Itoa(row.MessagesWithOptIns),
			strconv.Itoa(row.LabelledMessages), strconv.Itoa(row.RelevantMessages),
			strconv.Itoa(row.Participants), strconv.Itoa(row.ParticipantsOptIns),
			strconv.Itoa(row.RelevantParticipants),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// DemographicDistribution counts opted-in individuals per value of one coded
// demographic field. Values are returned in sorted order for stable output.
func DemographicDistribution(individuals []traced.Record, field string) ([]string, map[string]int) {
	counts := make(map[string]int)
	for _, record := range individuals {
		if consentWithdrawn(record) {
			continue
		}
		value, ok := record.Get(field)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		counts[value]++
	}
	values := make([]string, 0, len(counts))
	for value := range counts {
		values = append(values, value)
	}
	sort.Strings(values)
	return values, counts
}

// WriteDistributionCSV writes one demographic distribution.
func WriteDistributionCSV(path, field string, values []string, counts map[string]int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create analysis dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{field, "Participants"}); err != nil {
		return err
	}
	for _, value := range values {
		if err := w.Write([]string{value, strconv.Itoa(counts[value])}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func consentWithdrawn(record traced.Record) bool {
	value, ok := record.Get(ConsentWithdrawnKey)
	return ok && strings.EqualFold(strings.TrimSpace(value), "true")
}

func countWithField(records []traced.Record, field string) int {
	count := 0
	for _, record := range records {
		if _, ok := record.Get(field); ok {
			count++
		}
	}
	return count
}

func messagesFor(messages []traced.Record, episode string) []traced.Record {
	out := make([]traced.Record, 0)
	for _, record := range messages {
		if name, _ := record.Get(MessageDatasetKey); name == episode {
			out = append(out, record)
		}
	}
	return out
}

func countMessageOptIns(messages []traced.Record) int {
	count := 0
	for _, record := range messages {
		if !consentWithdrawn(record) {
			count++
		}
	}
	return count
}

func countMessagesLabelled(messages []traced.Record) int {
	count := 0
	for _, record := range messages {
		if consentWithdrawn(record) {
			continue
		}
		if coded, ok := record.Get(MessageCodedKey); ok && strings.TrimSpace(coded) != "" {
			count++
		}
	}
	return count
}

func countMessagesRelevant(messages []traced.Record) int {
	count := 0
	for _, record := range messages {
		if consentWithdrawn(record) {
			continue
		}
		if coded, ok := record.Get(MessageCodedKey); ok && isRelevantCode(coded) {
			count++
		}
	}
	return count
}

func hasAnyRaw(record traced.Record, datasets []DatasetPlan) bool {
	for _, dataset := range datasets {
		if _, ok := record.Get(dataset.RawField); ok {
			return true
		}
	}
	return false
}

func countOptIns(records []traced.Record, datasets []DatasetPlan) int {
	count := 0
	for _, record := range records {
		if consentWithdrawn(record) {
			continue
		}
		if hasAnyRaw(record, datasets) {
			count++
		}
	}
	return count
}

func countLabelled(records []traced.Record, datasets []DatasetPlan) int {
	count := 0
	for _, record := range records {
		if consentWithdrawn(record) {
			continue
		}
		for _, dataset := range datasets {
			if _, ok := record.Get(dataset.RawField); !ok {
				continue
			}
			if coded, ok := record.Get(dataset.CodedField); ok && strings.TrimSpace(coded) != "" {
				count++
				break
			}
		}
	}
	return count
}

func countRelevant(records []traced.Record, datasets []DatasetPlan) int {
	count := 0
	for _, record := range records {
		if consentWithdrawn(record) {
			continue
		}
		for _, dataset := range datasets {
			if _, ok := record.Get(dataset.RawField); !ok {
				continue
			}
			coded, ok := record.Get(dataset.CodedField)
			if !ok {
				continue
			}
			if isRelevantCode(coded) {
				count++
				break
			}
		}
	}
	return count
}

func isRelevantCode(code string) bool {
	switch strings.TrimSpace(code) {
	case "", CodeStop, CodeNotCoded, CodeWrongSurvey:
		return false
	default:
		return true
	}
}
