package stages

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/surveyline-labs/surveyline-go/internal/analysis"
	"github.com/surveyline-labs/surveyline-go/internal/coding"
	"github.com/surveyline-labs/surveyline-go/internal/domain"
	"github.com/surveyline-labs/surveyline-go/internal/identity"
	"github.com/surveyline-labs/surveyline-go/internal/messaging"
	"github.com/surveyline-labs/surveyline-go/internal/remap"
	"github.com/surveyline-labs/surveyline-go/internal/sequencer"
	"github.com/surveyline-labs/surveyline-go/internal/traced"
)

// ICRSampleSize caps how many messages per dataset go into the inter-coder
// reliability sample.
const ICRSampleSize = 200

// GenerateOutputs is the core transformation: raw runs are remapped through
// the key table, contacts are resolved to uids, out-of-window and
// test-contact records are dropped, and the surviving data is folded into
// per-message and per-individual datasets.
type GenerateOutputs struct {
	Config   domain.PipelineConfiguration
	Table    *remap.Table
	Resolver identity.Resolver
	Now      func() time.Time
}

func (s *GenerateOutputs) Name() string { return "generate-outputs" }

func (s *GenerateOutputs) Inputs() []string {
	flows := s.Config.FlowNames()
	in := make([]string, 0, len(flows))
	for _, flow := range flows {
		in = append(in, rawFlowFile(flow))
	}
	return in
}

func (s *GenerateOutputs) Outputs() []string {
	out := []string{
		ProductionCSV,
		MessagesCSV,
		IndividualsCSV,
		MessagesTracedJSONL,
		IndividualsTracedJSONL,
	}
	for _, key := range s.Table.ActivationKeys() {
		out = append(out, codaOutputFile(DatasetName(key)))
	}
	return out
}

func (s *GenerateOutputs) Run(ctx context.Context, env sequencer.Env) error {
	if s.Table == nil {
		return fmt.Errorf("remapping table is required")
	}
	if s.Resolver == nil {
		return fmt.Errorf("identity resolver is required")
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	runs, err := s.loadRuns(env.DataRoot)
	if err != nil {
		return err
	}

	messages, individuals, dropped, err := s.fold(ctx, runs, now())
	if err != nil {
		return err
	}
	env.Logger.Info("generated datasets",
		"messages", len(messages), "individuals", len(individuals), "dropped_runs", dropped)

	coded, err := s.loadCodedValues(env.DataRoot)
	if err != nil {
		return err
	}
	applyCodedValues(messages, individuals, coded, now())

	if err := s.writeOutputs(env.DataRoot, messages, individuals); err != nil {
		return err
	}
	return nil
}

// loadRuns reads every flow's raw file in declaration order and sorts each
// flow's runs by send time, so the whole scan is deterministic.
func (s *GenerateOutputs) loadRuns(dataRoot string) ([]messaging.Run, error) {
	all := make([]messaging.Run, 0)
	for _, flow := range s.Config.FlowNames() {
		var runs []messaging.Run
		if err := readJSON(filepath.Join(dataRoot, rawFlowFile(flow)), &runs); err != nil {
			return nil, err
		}
		sort.SliceStable(runs, func(i, j int) bool {
			if !runs[i].SentOn.Equal(runs[j].SentOn) {
				return runs[i].SentOn.Before(runs[j].SentOn)
			}
			return runs[i].ContactID < runs[j].ContactID
		})
		all = append(all, runs...)
	}
	return all, nil
}

// messageRow is one per-message output record.
type messageRow struct {
	record  traced.Record
	dataset string
	sentOn  time.Time
}

func (s *GenerateOutputs) fold(ctx context.Context, runs []messaging.Run, now time.Time) ([]messageRow, []traced.Record, int, error) {
	individualsByUID := make(map[string]*traced.Record)
	uidOrder := make([]string, 0)
	messages := make([]messageRow, 0)
	dropped := 0

	for _, run := range runs {
		if !s.Config.InWindow(run.SentOn) {
			dropped++
			continue
		}
		if s.Config.FilterTestMessages && s.Config.IsTestContact(run.ContactID) {
			dropped++
			continue
		}

		uid, err := s.Resolver.Resolve(ctx, run.ContactID)
		if err != nil {
			return nil, nil, 0, err
		}

		fields := s.Table.Apply(run.Values)
		if len(fields) == 0 {
			dropped++
			continue
		}

		individual, seen := individualsByUID[uid]
		if !seen {
			record := traced.NewRecord(uid, s.Name(), fields, now)
			individualsByUID[uid] = &record
			uidOrder = append(uidOrder, uid)
		} else {
			// Later observations overwrite: the scan order is
			// deterministic, so the winner is too.
			individual.Append(s.Name(), fields, now)
		}

		for _, key := range s.Table.ActivationKeys() {
			text, ok := fields[key]
			if !ok || strings.TrimSpace(text) == "" {
				continue
			}
			dataset := DatasetName(key)
			msgFields := map[string]string{
				analysis.MessageDatasetKey: dataset,
				"message":                  text,
				"sent_on":                  run.SentOn.UTC().Format(time.RFC3339),
				"message_id":               MessageID(uid, dataset, text, run.SentOn),
			}
			messages = append(messages, messageRow{
				record:  traced.NewRecord(uid, s.Name(), msgFields, now),
				dataset: dataset,
				sentOn:  run.SentOn.UTC(),
			})
		}
	}

	individuals := make([]traced.Record, 0, len(uidOrder))
	for _, uid := range uidOrder {
		individuals = append(individuals, *individualsByUID[uid])
	}
	return messages, individuals, dropped, nil
}

// MessageID derives the stable identifier used to match a message against
// its coded counterpart across pipeline runs.
func MessageID(uid, dataset, text string, sentOn time.Time) string {
	sum := sha256.Sum256([]byte(uid + "\x1f" + dataset + "\x1f" + text + "\x1f" + sentOn.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])
}

// loadCodedValues reads the coded datasets fetched earlier and indexes the
// latest code per message id.
func (s *GenerateOutputs) loadCodedValues(dataRoot string) (map[string]string, error) {
	coded := make(map[string]string)
	for _, key := range s.Table.ActivationKeys() {
		dataset := DatasetName(key)
		path := filepath.Join(dataRoot, codedDatasetFile(dataset))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		var msgs []coding.Message
		if err := readJSON(path, &msgs); err != nil {
			return nil, err
		}
		for _, msg := range msgs {
			if len(msg.Labels) == 0 {
				continue
			}
			latest := msg.Labels[0]
			for _, label := range msg.Labels[1:] {
				if label.DateTimeUTC.After(latest.DateTimeUTC) {
					latest = label
				}
			}
			coded[msg.MessageID] = latest.CodeID
		}
	}
	return coded, nil
}

func applyCodedValues(messages []messageRow, individuals []traced.Record, coded map[string]string, now time.Time) {
	codedByUID := make(map[string]map[string]string)
	for i := range messages {
		id, _ := messages[i].record.Get("message_id")
		code, ok := coded[id]
		if !ok {
			continue
		}
		messages[i].record.Append("merge-coded", map[string]string{analysis.MessageCodedKey: code}, now)
		uid := messages[i].record.UID
		if codedByUID[uid] == nil {
			codedByUID[uid] = make(map[string]string)
		}
		codedByUID[uid][CodedKey(messages[i].dataset+"_raw")] = code
	}
	for i := range individuals {
		updates := codedByUID[individuals[i].UID]
		if len(updates) == 0 {
			continue
		}
		individuals[i].Append("merge-coded", updates, now)
	}
}

func (s *GenerateOutputs) writeOutputs(dataRoot string, messages []messageRow, individuals []traced.Record) error {
	messageRecords := make([]traced.Record, 0, len(messages))
	for _, msg := range messages {
		messageRecords = append(messageRecords, msg.record)
	}
	if err := traced.WriteFile(filepath.Join(dataRoot, MessagesTracedJSONL), messageRecords); err != nil {
		return err
	}
	if err := traced.WriteFile(filepath.Join(dataRoot, IndividualsTracedJSONL), individuals); err != nil {
		return err
	}

	if err := s.writeMessagesCSV(filepath.Join(dataRoot, MessagesCSV), messages, true); err != nil {
		return err
	}
	if err := s.writeMessagesCSV(filepath.Join(dataRoot, ProductionCSV), messages, false); err != nil {
		return err
	}
	if err := s.writeIndividualsCSV(filepath.Join(dataRoot, IndividualsCSV), individuals); err != nil {
		return err
	}
	if err := s.writeCodaFiles(dataRoot, messages); err != nil {
		return err
	}
	return s.writeICRSamples(dataRoot, messages)
}

// writeMessagesCSV writes the per-message dataset. The production variant
// leaves out uids so the file can be shared outside the analysis team.
func (s *GenerateOutputs) writeMessagesCSV(path string, messages []messageRow, withUID bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create outputs dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"dataset", "message", "sent_on", "coded"}
	if withUID {
		header = append([]string{"uid"}, header...)
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, msg := range messages {
		text, _ := msg.record.Get("message")
		coded, _ := msg.record.Get(analysis.MessageCodedKey)
		row := []string{msg.dataset, text, msg.sentOn.Format(time.RFC3339), coded}
		if withUID {
			row = append([]string{msg.record.UID}, row...)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func (s *GenerateOutputs) writeIndividualsCSV(path string, individuals []traced.Record) error {
	columns := make([]string, 0)
	seen := make(map[string]struct{})
	for _, individual := range individuals {
		for key := range individual.Fields {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			columns = append(columns, key)
		}
	}
	sort.Strings(columns)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create outputs dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(append([]string{"uid"}, columns...)); err != nil {
		return err
	}
	for _, individual := range individuals {
		row := make([]string, 0, len(columns)+1)
		row = append(row, individual.UID)
		for _, column := range columns {
			value, _ := individual.Get(column)
			row = append(row, value)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// writeCodaFiles writes each dataset's messages in the coding tool's exchange
// format, ready to push back.
func (s *GenerateOutputs) writeCodaFiles(dataRoot string, messages []messageRow) error {
	byDataset := make(map[string][]coding.Message)
	for _, msg := range messages {
		text, _ := msg.record.Get("message")
		id, _ := msg.record.Get("message_id")
		byDataset[msg.dataset] = append(byDataset[msg.dataset], coding.Message{
			MessageID:           id,
			Text:                text,
			CreationDateTimeUTC: msg.sentOn,
		})
	}
	for _, key := range s.Table.ActivationKeys() {
		dataset := DatasetName(key)
		if err := writeJSON(filepath.Join(dataRoot, codaOutputFile(dataset)), byDataset[dataset]); err != nil {
			return err
		}
	}
	return nil
}

// writeICRSamples writes the first ICRSampleSize messages per dataset, by
// send time, for inter-coder reliability checks.
func (s *GenerateOutputs) writeICRSamples(dataRoot string, messages []messageRow) error {
	byDataset := make(map[string][]messageRow)
	for _, msg := range messages {
		byDataset[msg.dataset] = append(byDataset[msg.dataset], msg)
	}
	for dataset, rows := range byDataset {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].sentOn.Before(rows[j].sentOn) })
		if len(rows) > ICRSampleSize {
			rows = rows[:ICRSampleSize]
		}
		path := filepath.Join(dataRoot, ICRDir, dataset+".csv")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create icr dir: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		w := csv.NewWriter(f)
		if err := w.Write([]string{"message"}); err != nil {
			f.Close()
			return err
		}
		for _, row := range rows {
			text, _ := row.record.Get("message")
			if err := w.Write([]string{text}); err != nil {
				f.Close()
				return err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
