package assignments

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/runner"
	"github.com/ternarybob/quarry/internal/storage/badger"
)

type fakeConnector struct{}

func (fakeConnector) DiscoverTables(context.Context) ([]models.TableSchema, error) {
	return []models.TableSchema{{
		Schema: "public",
		Name:   "products",
		Columns: []models.ColumnSchema{
			{Name: "id", DataType: "integer", IsPrimaryKey: true},
			{Name: "title", DataType: "text"},
			{Name: "price", DataType: "numeric", Nullable: true},
		},
	}}, nil
}

func (fakeConnector) InsertRows(context.Context, string, []string, []models.Row) (*models.InsertResult, error) {
	return &models.InsertResult{}, nil
}

func (fakeConnector) Close() error { return nil }

type fakeScheduler struct {
	mu          sync.Mutex
	scheduled   []string
	unscheduled []string
}

func (f *fakeScheduler) Start(context.Context) error { return nil }
func (f *fakeScheduler) Stop() error                 { return nil }

func (f *fakeScheduler) Schedule(_ context.Context, a *models.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.IsSchedulable() {
		f.scheduled = append(f.scheduled, a.ID)
	} else {
		f.unscheduled = append(f.unscheduled, a.ID)
	}
	return nil
}

func (f *fakeScheduler) Unschedule(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unscheduled = append(f.unscheduled, id)
}

func (f *fakeScheduler) TriggerNow(context.Context, string, models.TriggerSource) (string, error) {
	return "", nil
}

func (f *fakeScheduler) Status(string) (*interfaces.ScheduleStatus, bool) { return nil, false }
func (f *fakeScheduler) Statuses() []*interfaces.ScheduleStatus          { return nil }

type fakeJobs struct {
	inFlight map[string]bool
	released int
}

func (f *fakeJobs) Reserve(id string) (func(), error) {
	if f.inFlight[id] {
		return nil, models.ErrAlreadyRunning
	}
	f.inFlight[id] = true
	return func() {
		f.inFlight[id] = false
		f.released++
	}, nil
}

func (f *fakeJobs) Sample(_ context.Context, id string, maxRows int) (*runner.Outcome, error) {
	return &runner.Outcome{Rows: []models.Row{{"title": id}}}, nil
}

type fakeAnalyzer struct {
	suggestions []models.ColumnSuggestion
	analyzed    int
}

func (f *fakeAnalyzer) AnalyzePage(_ context.Context, _ string, columns []models.ColumnSchema) ([]models.ColumnSuggestion, error) {
	f.analyzed++
	return f.suggestions, nil
}

func (f *fakeAnalyzer) CreateCaptureConfig(_ context.Context, analysis []models.ColumnSuggestion, _ string) (*models.CaptureConfig, error) {
	config := &models.CaptureConfig{Provider: "fake", ItemHint: "a product"}
	for _, s := range analysis {
		config.Columns = append(config.Columns, models.CaptureColumn{Name: s.Column, DataType: s.DataType})
	}
	return config, nil
}

type fakePages struct {
	urls []string
}

func (f *fakePages) PageHTML(_ context.Context, _ *models.WebSource, pageURL string) (string, error) {
	f.urls = append(f.urls, pageURL)
	return "<html><body></body></html>", nil
}

var productStructure = &models.WebsiteStructure{
	AnalyzedURL: "https://shop.test/list",
	RepeatingElements: []models.RepeatingElement{{
		Selector:  "div.product",
		ItemCount: 3,
		Fields: []models.DetectedField{
			{Name: "title", Selector: "h2.title", Attribute: "text", SampleValue: "Alpha", DataType: models.DataTypeString},
			{Name: "price", Selector: "span.price", Attribute: "text", SampleValue: "$10.50", DataType: models.DataTypeNumber},
		},
	}},
}

type fixture struct {
	service   *Service
	storage   interfaces.StorageManager
	scheduler *fakeScheduler
	jobs      *fakeJobs
	analyzer  *fakeAnalyzer
	pages     *fakePages
	source    *models.WebSource
}

func newFixture(t *testing.T, withLLM bool, structure *models.WebsiteStructure) *fixture {
	t.Helper()
	dir := t.TempDir()
	logger := arbor.NewLogger()
	storage, err := badger.NewManager(logger,
		&common.BadgerConfig{Path: filepath.Join(dir, "db")},
		&common.StagingConfig{Dir: filepath.Join(dir, "staging")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	source := &models.WebSource{ID: "src_shop", Name: "Shop", BaseURL: "https://shop.test/list", Structure: structure}
	require.NoError(t, storage.WebSourceStorage().SaveWebSource(context.Background(), source))

	f := &fixture{
		storage:   storage,
		scheduler: &fakeScheduler{},
		jobs:      &fakeJobs{inFlight: map[string]bool{}},
		analyzer:  &fakeAnalyzer{},
		pages:     &fakePages{},
		source:    source,
	}
	opts := []Option{WithConnector(fakeConnector{}), WithScheduler(f.scheduler)}
	if withLLM {
		opts = append(opts, WithPageAnalyzer(f.analyzer, f.pages))
	}
	f.service = NewService(storage, nil, f.jobs, nil, logger, opts...)
	return f
}

func (f *fixture) createAssignment(t *testing.T) *models.Assignment {
	t.Helper()
	assignment := &models.Assignment{Name: "Products", WebSourceID: f.source.ID, TargetTable: "products"}
	require.NoError(t, f.service.CreateAssignment(context.Background(), assignment))
	return assignment
}

func (f *fixture) createRule(t *testing.T, assignmentID, column, selector string) *models.ExtractionRule {
	t.Helper()
	rule := &models.ExtractionRule{AssignmentID: assignmentID, TargetColumn: column, Selector: selector, IsActive: true}
	require.NoError(t, f.service.CreateRule(context.Background(), rule))
	return rule
}

func TestCreateAssignment_Defaults(t *testing.T) {
	f := newFixture(t, false, nil)

	assignment := &models.Assignment{
		Name:        "Products",
		WebSourceID: f.source.ID,
		TargetTable: "products",
		Status:      models.AssignmentActive,
	}
	require.NoError(t, f.service.CreateAssignment(context.Background(), assignment))

	assert.Contains(t, assignment.ID, "asg_")
	assert.Equal(t, models.AssignmentDraft, assignment.Status)
	assert.Equal(t, models.SyncModeManual, assignment.SyncMode)
	assert.Equal(t, models.ScheduleManual, assignment.ScheduleType)
	assert.Equal(t, models.ExtractionRules, assignment.ExtractionMethod)
	assert.Equal(t, models.PaginationNone, assignment.Pagination.Type)

	stored, err := f.service.GetAssignment(context.Background(), assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, "products", stored.TargetTable)
}

func TestCreateAssignment_Validation(t *testing.T) {
	f := newFixture(t, false, nil)

	base := func(mutate func(*models.Assignment)) *models.Assignment {
		a := &models.Assignment{Name: "Products", WebSourceID: f.source.ID, TargetTable: "products"}
		mutate(a)
		return a
	}
	tests := []struct {
		name       string
		assignment *models.Assignment
		field      string
	}{
		{"missing name", base(func(a *models.Assignment) { a.Name = "" }), "name"},
		{"unknown source", base(func(a *models.Assignment) { a.WebSourceID = "src_missing" }), "web_source_id"},
		{"every minute cron", base(func(a *models.Assignment) {
			a.ScheduleType = models.ScheduleCron
			a.CronExpression = "* * * * *"
		}), "cron_expression"},
		{"unknown table", base(func(a *models.Assignment) { a.TargetTable = "orders" }), "target_table"},
		{"wrong schema", base(func(a *models.Assignment) { a.TargetSchema = "sales" }), "target_table"},
		{"ftp start url", base(func(a *models.Assignment) { a.StartURL = "ftp://shop.test/list" }), "start_url"},
		{"bad item selector", base(func(a *models.Assignment) { a.ItemSelector = "div[[" }), "item_selector"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.service.CreateAssignment(context.Background(), tt.assignment)
			var cfgErr *models.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestSetStatus_Lifecycle(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()
	assignment := f.createAssignment(t)

	_, err := f.service.SetStatus(ctx, assignment.ID, models.AssignmentActive, "")
	var cfgErr *models.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "status", cfgErr.Field)

	_, err = f.service.SetStatus(ctx, assignment.ID, models.AssignmentTesting, "")
	require.NoError(t, err)

	_, err = f.service.SetStatus(ctx, assignment.ID, models.AssignmentActive, "")
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "rules", cfgErr.Field)

	f.createRule(t, assignment.ID, "title", "div.product h2")
	updated, err := f.service.SetStatus(ctx, assignment.ID, models.AssignmentActive, "")
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentActive, updated.Status)

	failed, err := f.service.SetStatus(ctx, assignment.ID, models.AssignmentError, "selector broke")
	require.NoError(t, err)
	assert.Equal(t, "selector broke", failed.StatusMessage)

	_, err = f.service.SetStatus(ctx, assignment.ID, "archived", "")
	assert.ErrorAs(t, err, &cfgErr)

	assert.Contains(t, f.scheduler.unscheduled, assignment.ID)
}

func TestSetStatus_SchedulesAutoSync(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	assignment := &models.Assignment{
		Name: "Products", WebSourceID: f.source.ID, TargetTable: "products",
		SyncMode: models.SyncModeAuto, ScheduleType: models.ScheduleHourly,
	}
	require.NoError(t, f.service.CreateAssignment(ctx, assignment))
	f.createRule(t, assignment.ID, "title", "div.product h2")

	_, err := f.service.SetStatus(ctx, assignment.ID, models.AssignmentTesting, "")
	require.NoError(t, err)
	_, err = f.service.SetStatus(ctx, assignment.ID, models.AssignmentActive, "")
	require.NoError(t, err)
	assert.Equal(t, []string{assignment.ID}, f.scheduler.scheduled)
}

func TestSetStatus_LLMRequiresCapture(t *testing.T) {
	f := newFixture(t, true, nil)
	ctx := context.Background()

	assignment := &models.Assignment{
		Name: "Products", WebSourceID: f.source.ID, TargetTable: "products",
		ExtractionMethod: models.ExtractionLLM,
	}
	require.NoError(t, f.service.CreateAssignment(ctx, assignment))
	_, err := f.service.SetStatus(ctx, assignment.ID, models.AssignmentTesting, "")
	require.NoError(t, err)

	_, err = f.service.SetStatus(ctx, assignment.ID, models.AssignmentActive, "")
	var cfgErr *models.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "capture", cfgErr.Field)

	f.analyzer.suggestions = []models.ColumnSuggestion{{Column: "title", Selector: "h2", DataType: models.DataTypeString}}
	config, err := f.service.GenerateCapture(ctx, assignment.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "fake", config.Provider)
	assert.Equal(t, 1, f.analyzer.analyzed)

	_, err = f.service.SetStatus(ctx, assignment.ID, models.AssignmentActive, "")
	require.NoError(t, err)
}

func TestUpdateAssignment_KeepsStatus(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()
	assignment := f.createAssignment(t)
	_, err := f.service.SetStatus(ctx, assignment.ID, models.AssignmentTesting, "")
	require.NoError(t, err)

	update := &models.Assignment{
		ID: assignment.ID, Name: "Renamed", WebSourceID: f.source.ID, TargetTable: "products",
		Status: models.AssignmentActive,
	}
	require.NoError(t, f.service.UpdateAssignment(ctx, update))
	assert.Equal(t, models.AssignmentTesting, update.Status)
	assert.Equal(t, assignment.CreatedAt.Unix(), update.CreatedAt.Unix())

	err = f.service.UpdateAssignment(ctx, &models.Assignment{ID: "asg_missing", Name: "x", WebSourceID: f.source.ID, TargetTable: "products"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteAssignment(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()
	assignment := f.createAssignment(t)
	rule := f.createRule(t, assignment.ID, "title", "div.product h2")

	f.jobs.inFlight[assignment.ID] = true
	assert.ErrorIs(t, f.service.DeleteAssignment(ctx, assignment.ID), models.ErrAlreadyRunning)

	f.jobs.inFlight[assignment.ID] = false
	require.NoError(t, f.service.DeleteAssignment(ctx, assignment.ID))
	assert.Contains(t, f.scheduler.unscheduled, assignment.ID)
	assert.False(t, f.jobs.inFlight[assignment.ID], "reservation released after delete")
	assert.Equal(t, 1, f.jobs.released)

	_, err := f.service.GetRule(ctx, rule.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, f.service.DeleteAssignment(ctx, assignment.ID), models.ErrNotFound)
}

func TestRules_Validation(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()
	assignment := f.createAssignment(t)
	first := f.createRule(t, assignment.ID, "title", "div.product h2")
	assert.Contains(t, first.ID, "rule_")
	assert.Equal(t, models.SelectorCSS, first.SelectorKind)
	assert.Equal(t, models.AttributeText, first.Attribute)

	tests := []struct {
		name  string
		rule  *models.ExtractionRule
		field string
	}{
		{"unknown assignment", &models.ExtractionRule{AssignmentID: "asg_missing", TargetColumn: "title", Selector: "h2"}, "assignment_id"},
		{"unknown column", &models.ExtractionRule{AssignmentID: assignment.ID, TargetColumn: "sku", Selector: "h2"}, "target_column"},
		{"bad selector", &models.ExtractionRule{AssignmentID: assignment.ID, TargetColumn: "price", Selector: "div[["}, "selector"},
		{"duplicate active", &models.ExtractionRule{AssignmentID: assignment.ID, TargetColumn: "title", Selector: "h3", IsActive: true}, "target_column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.service.CreateRule(ctx, tt.rule)
			var cfgErr *models.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	inactive := &models.ExtractionRule{AssignmentID: assignment.ID, TargetColumn: "title", Selector: "//h3", SortOrder: 1}
	require.NoError(t, f.service.CreateRule(ctx, inactive))
	assert.Equal(t, models.SelectorXPath, inactive.SelectorKind)

	first.Selector = "div.product h1"
	require.NoError(t, f.service.UpdateRule(ctx, first))

	rules, err := f.service.ListRules(ctx, assignment.ID, false)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "div.product h1", rules[0].Selector)

	require.NoError(t, f.service.DeleteRule(ctx, inactive.ID))
	rules, err = f.service.ListRules(ctx, assignment.ID, false)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestRules_ConcurrentActiveRulesForOneColumn(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()
	assignment := f.createAssignment(t)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.service.CreateRule(ctx, &models.ExtractionRule{
				AssignmentID: assignment.ID,
				TargetColumn: "price",
				Selector:     "span.price",
				IsActive:     true,
			})
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		var cfgErr *models.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "target_column", cfgErr.Field)
	}
	assert.Equal(t, 1, created)

	rules, err := f.service.ListRules(ctx, assignment.ID, true)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("asg_1")

	acquired := make(chan struct{})
	go func() {
		release := k.Lock("asg_1")
		close(acquired)
		release()
	}()

	other := k.Lock("asg_2")
	other()

	select {
	case <-acquired:
		t.Fatal("second writer entered while the lock was held")
	default:
	}
	unlock()
	<-acquired

	require.Eventually(t, func() bool {
		k.mu.Lock()
		defer k.mu.Unlock()
		return len(k.locks) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSuggest_FromStructure(t *testing.T) {
	f := newFixture(t, true, productStructure)
	assignment := f.createAssignment(t)

	suggestions, err := f.service.Suggest(context.Background(), assignment.ID)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	assert.Equal(t, "title", suggestions[0].Column)
	assert.Equal(t, "div.product h2.title", suggestions[0].Selector)
	assert.Equal(t, models.DataTypeNumber, suggestions[1].DataType)
	assert.Zero(t, f.analyzer.analyzed)
}

func TestSuggest_FallsBackToLLM(t *testing.T) {
	f := newFixture(t, true, nil)
	f.analyzer.suggestions = []models.ColumnSuggestion{{Column: "title", Selector: ".card h3", Attribute: "text", DataType: models.DataTypeString}}
	assignment := &models.Assignment{Name: "Products", WebSourceID: f.source.ID, TargetTable: "products", StartURL: "https://shop.test/catalog"}
	require.NoError(t, f.service.CreateAssignment(context.Background(), assignment))

	suggestions, err := f.service.Suggest(context.Background(), assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, f.analyzer.suggestions, suggestions)
	assert.Equal(t, []string{"https://shop.test/catalog"}, f.pages.urls)
}

func TestSuggest_RequiresAnalysisWithoutLLM(t *testing.T) {
	f := newFixture(t, false, nil)
	assignment := f.createAssignment(t)

	_, err := f.service.Suggest(context.Background(), assignment.ID)
	var cfgErr *models.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Message, "not analyzed")
}

func TestSeedRules(t *testing.T) {
	f := newFixture(t, false, productStructure)
	ctx := context.Background()
	assignment := f.createAssignment(t)
	f.createRule(t, assignment.ID, "title", "div.product h1")

	suggestions := []models.ColumnSuggestion{
		{Column: "title", Selector: "div.product h2.title", Attribute: "text", DataType: models.DataTypeString},
		{Column: "price", Selector: "div.product span.price", Attribute: "text", DataType: models.DataTypeNumber},
		{Column: "sku", Selector: ".sku", Attribute: "text"},
	}
	created, err := f.service.SeedRules(ctx, assignment.ID, suggestions, true)
	require.NoError(t, err)
	require.Len(t, created, 2)

	assert.False(t, created[0].IsActive)
	assert.Equal(t, 1, created[0].SortOrder)
	assert.True(t, created[1].IsActive)
	assert.Equal(t, 2, created[1].SortOrder)

	active, err := f.service.ListRules(ctx, assignment.ID, true)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestSample(t *testing.T) {
	f := newFixture(t, false, nil)
	outcome, err := f.service.Sample(context.Background(), "asg_1", 5)
	require.NoError(t, err)
	assert.Equal(t, "asg_1", outcome.Rows[0]["title"])
}
