package stages

import (
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/surveyline-labs/surveyline-go/internal/analysis"
	"github.com/surveyline-labs/surveyline-go/internal/archive"
	"github.com/surveyline-labs/surveyline-go/internal/coding"
	"github.com/surveyline-labs/surveyline-go/internal/domain"
	"github.com/surveyline-labs/surveyline-go/internal/messaging"
	"github.com/surveyline-labs/surveyline-go/internal/remap"
	"github.com/surveyline-labs/surveyline-go/internal/sequencer"
	"github.com/surveyline-labs/surveyline-go/internal/traced"
)

func testEnv(t *testing.T) sequencer.Env {
	t.Helper()
	return sequencer.Env{
		DataRoot: t.TempDir(),
		Run:      domain.RunRecord{RunID: "2024-03-01T10:00:00Z-v1.0.0"},
		Logger:   slog.New(slog.DiscardHandler),
	}
}

func testConfig(t *testing.T) domain.PipelineConfiguration {
	t.Helper()
	return domain.PipelineConfiguration{
		PipelineName: "health_radio",
		RawDataSources: []domain.RawDataSource{{
			SourceName:          "textit",
			ActivationFlowNames: []string{"s01e01_activation"},
			SurveyFlowNames:     []string{"s01_demographics"},
			TestContactIDs:      []string{"test-contact"},
		}},
		ProjectStartDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		ProjectEndDate:     time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		FilterTestMessages: true,
	}
}

func testTable(t *testing.T) *remap.Table {
	t.Helper()
	table, err := remap.NewTable([]domain.RemappingRule{
		{SourceKey: "Rqa_S01E01 (Value) - s01e01_activation", PipelineKey: "s01e01_raw", IsActivationMessage: true},
		{SourceKey: "Age (Value) - s01_demographics", PipelineKey: "age"},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

type fakeResolver struct {
	uids map[string]string
}

func (f *fakeResolver) Resolve(_ context.Context, rawContactID string) (string, error) {
	uid, ok := f.uids[rawContactID]
	if !ok {
		uid = "survey-uid-" + rawContactID
		f.uids[rawContactID] = uid
	}
	return uid, nil
}

func (f *fakeResolver) ResolveBatch(ctx context.Context, rawContactIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(rawContactIDs))
	for _, id := range rawContactIDs {
		uid, err := f.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = uid
	}
	return out, nil
}

func (f *fakeResolver) RawContactIDs(_ context.Context, uids []string) (map[string]string, error) {
	out := make(map[string]string)
	for raw, uid := range f.uids {
		for _, want := range uids {
			if uid == want {
				out[uid] = raw
			}
		}
	}
	return out, nil
}

type fakeCodingClient struct {
	datasets map[string][]coding.Message
	pushed   map[string][]coding.Message
}

func (f *fakeCodingClient) FetchDataset(_ context.Context, name string) ([]coding.Message, error) {
	return f.datasets[name], nil
}

func (f *fakeCodingClient) PushDataset(_ context.Context, name string, msgs []coding.Message) error {
	if f.pushed == nil {
		f.pushed = make(map[string][]coding.Message)
	}
	f.pushed[name] = msgs
	return nil
}

type fakeMessagingClient struct {
	runs map[string][]messaging.Run
}

func (f *fakeMessagingClient) FetchRuns(_ context.Context, flow string, _, _ time.Time) ([]messaging.Run, error) {
	return f.runs[flow], nil
}

func TestFetchCodedWritesDatasetFiles(t *testing.T) {
	env := testEnv(t)
	client := &fakeCodingClient{datasets: map[string][]coding.Message{
		"s01e01": {{MessageID: "m1", Text: "water"}},
	}}
	stage := &FetchCoded{Client: client, Datasets: []string{"s01e01"}}

	if err := stage.Run(context.Background(), env); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got []coding.Message
	if err := readJSON(filepath.Join(env.DataRoot, codedDatasetFile("s01e01")), &got); err != nil {
		t.Fatalf("read coded file: %v", err)
	}
	if len(got) != 1 || got[0].MessageID != "m1" {
		t.Fatalf("unexpected coded dataset: %+v", got)
	}
}

func TestFetchRawWritesFlowFiles(t *testing.T) {
	env := testEnv(t)
	cfg := testConfig(t)
	client := &fakeMessagingClient{runs: map[string][]messaging.Run{
		"s01e01_activation": {{ContactID: "c1", SentOn: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)}},
	}}
	stage := &FetchRaw{Client: client, Config: cfg}

	if err := stage.Run(context.Background(), env); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, flow := range cfg.FlowNames() {
		if _, err := os.Stat(filepath.Join(env.DataRoot, rawFlowFile(flow))); err != nil {
			t.Fatalf("raw file for %s missing: %v", flow, err)
		}
	}
}

func TestGenerateOutputs(t *testing.T) {
	env := testEnv(t)
	cfg := testConfig(t)
	table := testTable(t)
	resolver := &fakeResolver{uids: map[string]string{"c1": "survey-uid-aaa", "c2": "survey-uid-bbb"}}

	inWindow := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	raw := map[string][]messaging.Run{
		"s01e01_activation": {
			{ContactID: "c1", SentOn: inWindow,
				Values: map[string]string{"Rqa_S01E01 (Value) - s01e01_activation": "clean water please"}},
			{ContactID: "test-contact", SentOn: inWindow,
				Values: map[string]string{"Rqa_S01E01 (Value) - s01e01_activation": "test message"}},
			{ContactID: "c2", SentOn: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
				Values: map[string]string{"Rqa_S01E01 (Value) - s01e01_activation": "too late"}},
		},
		"s01_demographics": {
			{ContactID: "c1", SentOn: inWindow.Add(time.Hour),
				Values: map[string]string{"Age (Value) - s01_demographics": "24"}},
		},
	}
	for flow, runs := range raw {
		if err := writeJSON(filepath.Join(env.DataRoot, rawFlowFile(flow)), runs); err != nil {
			t.Fatalf("seed raw %s: %v", flow, err)
		}
	}

	// Seed a coded label for c1's activation message.
	msgID := MessageID("survey-uid-aaa", "s01e01", "clean water please", inWindow)
	codedMsgs := []coding.Message{{
		MessageID: msgID,
		Text:      "clean water please",
		Labels:    []coding.Label{{SchemeID: "scheme-1", CodeID: "water", DateTimeUTC: inWindow}},
	}}
	if err := writeJSON(filepath.Join(env.DataRoot, codedDatasetFile("s01e01")), codedMsgs); err != nil {
		t.Fatalf("seed coded: %v", err)
	}

	stage := &GenerateOutputs{
		Config:   cfg,
		Table:    table,
		Resolver: resolver,
		Now:      func() time.Time { return time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC) },
	}
	if err := stage.Run(context.Background(), env); err != nil {
		t.Fatalf("Run: %v", err)
	}

	individuals, err := traced.ReadFile(filepath.Join(env.DataRoot, IndividualsTracedJSONL))
	if err != nil {
		t.Fatalf("read individuals: %v", err)
	}
	if len(individuals) != 1 {
		t.Fatalf("expected 1 individual, got %d", len(individuals))
	}
	individual := individuals[0]
	if individual.UID != "survey-uid-aaa" {
		t.Fatalf("unexpected uid %q", individual.UID)
	}
	if age, _ := individual.Get("age"); age != "24" {
		t.Errorf("age = %q, want 24", age)
	}
	if coded, _ := individual.Get("s01e01_coded"); coded != "water" {
		t.Errorf("s01e01_coded = %q, want water", coded)
	}
	if err := individual.Verify(); err != nil {
		t.Errorf("individual history broken: %v", err)
	}

	messages, err := traced.ReadFile(filepath.Join(env.DataRoot, MessagesTracedJSONL))
	if err != nil {
		t.Fatalf("read messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if coded, _ := messages[0].Get("coded"); coded != "water" {
		t.Errorf("message coded = %q, want water", coded)
	}

	rows := readCSV(t, filepath.Join(env.DataRoot, MessagesCSV))
	if len(rows) != 2 {
		t.Fatalf("messages.csv rows = %d, want header + 1", len(rows))
	}
	if rows[0][0] != "uid" {
		t.Errorf("messages.csv header starts with %q, want uid", rows[0][0])
	}

	production := readCSV(t, filepath.Join(env.DataRoot, ProductionCSV))
	for _, row := range production {
		for _, cell := range row {
			if strings.HasPrefix(cell, "survey-uid-") {
				t.Fatalf("production.csv leaks uid: %v", row)
			}
		}
	}

	if _, err := os.Stat(filepath.Join(env.DataRoot, ICRDir, "s01e01.csv")); err != nil {
		t.Errorf("ICR sample missing: %v", err)
	}
	var coda []coding.Message
	if err := readJSON(filepath.Join(env.DataRoot, codaOutputFile("s01e01")), &coda); err != nil {
		t.Fatalf("read coda file: %v", err)
	}
	if len(coda) != 1 || coda[0].MessageID != msgID {
		t.Fatalf("unexpected coda file: %+v", coda)
	}
}

func TestGenerateOutputsLaterRunWins(t *testing.T) {
	env := testEnv(t)
	cfg := testConfig(t)
	table := testTable(t)

	early := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	late := time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC)
	runs := []messaging.Run{
		{ContactID: "c1", SentOn: late,
			Values: map[string]string{"Age (Value) - s01_demographics": "31"}},
		{ContactID: "c1", SentOn: early,
			Values: map[string]string{"Age (Value) - s01_demographics": "30"}},
	}
	if err := writeJSON(filepath.Join(env.DataRoot, rawFlowFile("s01_demographics")), runs); err != nil {
		t.Fatalf("seed raw: %v", err)
	}
	if err := writeJSON(filepath.Join(env.DataRoot, rawFlowFile("s01e01_activation")), []messaging.Run{}); err != nil {
		t.Fatalf("seed raw: %v", err)
	}

	stage := &GenerateOutputs{
		Config:   cfg,
		Table:    table,
		Resolver: &fakeResolver{uids: map[string]string{}},
		Now:      func() time.Time { return late },
	}
	if err := stage.Run(context.Background(), env); err != nil {
		t.Fatalf("Run: %v", err)
	}

	individuals, err := traced.ReadFile(filepath.Join(env.DataRoot, IndividualsTracedJSONL))
	if err != nil {
		t.Fatalf("read individuals: %v", err)
	}
	if len(individuals) != 1 {
		t.Fatalf("expected 1 individual, got %d", len(individuals))
	}
	if age, _ := individuals[0].Get("age"); age != "31" {
		t.Errorf("age = %q, want the later answer 31", age)
	}
	if len(individuals[0].History) != 2 {
		t.Errorf("history events = %d, want 2", len(individuals[0].History))
	}
}

func TestPushCodedUploadsDatasets(t *testing.T) {
	env := testEnv(t)
	msgs := []coding.Message{{MessageID: "m1", Text: "hi"}}
	if err := writeJSON(filepath.Join(env.DataRoot, codaOutputFile("s01e01")), msgs); err != nil {
		t.Fatalf("seed coda: %v", err)
	}
	client := &fakeCodingClient{}
	stage := &PushCoded{Client: client, Datasets: []string{"s01e01"}}

	if err := stage.Run(context.Background(), env); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(client.pushed["s01e01"]) != 1 {
		t.Fatalf("pushed = %+v", client.pushed)
	}
}

func TestAutomatedAnalysisWritesReports(t *testing.T) {
	env := testEnv(t)
	plan := analysis.Plan{
		Schema:       analysis.PlanSchemaV1,
		Datasets:     []analysis.DatasetPlan{{Name: "s01e01", RawField: "s01e01_raw", CodedField: "s01e01_coded"}},
		Demographics: []string{"age"},
	}
	messages := []traced.Record{
		traced.NewRecord("survey-uid-aaa", "test",
			map[string]string{"dataset": "s01e01", "message": "water", "coded": "water"}, time.Now()),
	}
	individuals := []traced.Record{
		traced.NewRecord("survey-uid-aaa", "test",
			map[string]string{"s01e01_raw": "water", "s01e01_coded": "water", "age": "24"}, time.Now()),
	}
	if err := traced.WriteFile(filepath.Join(env.DataRoot, MessagesTracedJSONL), messages); err != nil {
		t.Fatalf("seed messages: %v", err)
	}
	if err := traced.WriteFile(filepath.Join(env.DataRoot, IndividualsTracedJSONL), individuals); err != nil {
		t.Fatalf("seed individuals: %v", err)
	}

	stage := &AutomatedAnalysis{Plan: plan}
	if err := stage.Run(context.Background(), env); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.DataRoot, AnalysisDir, "engagement.csv")); err != nil {
		t.Errorf("engagement.csv missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.DataRoot, distributionFile("age"))); err != nil {
		t.Errorf("age distribution missing: %v", err)
	}
}

func TestBackupExcludesBackupsAndLogs(t *testing.T) {
	env := testEnv(t)
	mustWriteFile(t, filepath.Join(env.DataRoot, OutputsDir, "messages.csv"), "uid,message\n")
	mustWriteFile(t, filepath.Join(env.DataRoot, LogsDir, env.Run.RunID+".log"), "log line\n")

	stage := &Backup{}
	if err := stage.Run(context.Background(), env); err != nil {
		t.Fatalf("Run: %v", err)
	}

	archivePath := filepath.Join(env.DataRoot, backupFile(env.Run.RunID))
	f, err := os.Open(archivePath)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer f.Close()

	dest := t.TempDir()
	if err := archive.Extract(f, dest); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, OutputsDir, "messages.csv")); err != nil {
		t.Errorf("outputs missing from backup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, LogsDir)); !os.IsNotExist(err) {
		t.Errorf("logs should be excluded from backup, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, BackupsDir)); !os.IsNotExist(err) {
		t.Errorf("backups should be excluded from backup, stat err = %v", err)
	}
}

type recordingStore struct {
	puts map[string]string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{puts: make(map[string]string)}
}

func (f *recordingStore) PutFile(_ context.Context, bucket, key, _, contentType string) error {
	f.puts[bucket+"/"+key] = contentType
	return nil
}

func TestUploadFiles(t *testing.T) {
	env := testEnv(t)
	mustWriteFile(t, filepath.Join(env.DataRoot, OutputsDir, "messages.csv"), "uid\n")
	mustWriteFile(t, filepath.Join(env.DataRoot, backupFile(env.Run.RunID)), "archive")

	store := newRecordingStore()
	stage := &UploadFiles{Store: store, UploadsBucket: "uploads", ArchiveBucket: "archives"}
	if err := stage.Run(context.Background(), env); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantCSV := "uploads/" + env.Run.RunID + "/Outputs/messages.csv"
	if _, ok := store.puts[wantCSV]; !ok {
		t.Errorf("missing upload %q, got %v", wantCSV, keys(store.puts))
	}
	wantBackup := "archives/" + env.Run.RunID + "/Backups/" + env.Run.RunID + ".tar.snappy"
	if _, ok := store.puts[wantBackup]; !ok {
		t.Errorf("missing upload %q, got %v", wantBackup, keys(store.puts))
	}
}

func TestUploadLogs(t *testing.T) {
	env := testEnv(t)
	store := newRecordingStore()
	stage := &UploadLogs{Store: store, LogsBucket: "logs"}

	if err := stage.Run(context.Background(), env); err == nil {
		t.Fatal("expected error when run log is missing")
	}

	mustWriteFile(t, filepath.Join(env.DataRoot, LogsDir, env.Run.RunID+".log"), "line\n")
	if err := stage.Run(context.Background(), env); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "logs/" + env.Run.RunID + "/" + env.Run.RunID + ".log"
	if _, ok := store.puts[want]; !ok {
		t.Errorf("missing upload %q, got %v", want, keys(store.puts))
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
