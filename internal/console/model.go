// Package console is the interactive terminal front end: a paginated model
// list with a learning-curve drawer, training controls and transient
// notifications.
package console

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/paginator"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rasac/internal/botstore"
	"github.com/fyrsmithlabs/rasac/internal/config"
	"github.com/fyrsmithlabs/rasac/internal/curve"
	"github.com/fyrsmithlabs/rasac/internal/logging"
	"github.com/fyrsmithlabs/rasac/internal/training"
)

// Backend is the subset of the REST client the console uses.
type Backend interface {
	ListModels(ctx context.Context) (*botstore.ModelList, error)
	Curve(ctx context.Context, modelID string) (*curve.Series, error)
	ModelConfig(ctx context.Context, modelID string) (botstore.ModelConfig, error)
	DeleteModel(ctx context.Context, modelID string) (*botstore.ModelList, error)
	SaveModel(ctx context.Context, modelID, dir string) (string, int64, error)
}

// Trainer starts and aborts training runs.
type Trainer interface {
	NewRequestID() string
	StartWithID(ctx context.Context, requestID string, configs map[string]any, testing bool) (*training.Result, error)
	Abort(ctx context.Context, requestID string) (string, *botstore.ModelList, error)
}

// Options configures the console.
type Options struct {
	PageSize            int
	DownloadDir         string
	NotificationTimeout time.Duration
	Patience            int
	Logger              *logging.Logger
}

func (o *Options) applyDefaults() {
	if o.PageSize < 1 {
		o.PageSize = config.DefaultPageSize
	}
	if o.DownloadDir == "" {
		o.DownloadDir = "."
	}
	if o.NotificationTimeout <= 0 {
		o.NotificationTimeout = 4 * time.Second
	}
	o.Patience = curve.ClampPatience(o.Patience)
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
}

type mode int

const (
	modeList mode = iota
	modeCurve
	modeConfirmDelete
)

// op names a foreground backend request.
type op string

const (
	opNone     op = ""
	opRefresh  op = "refresh"
	opCurve    op = "curve"
	opDelete   op = "delete"
	opDownload op = "download"
	opAbort    op = "abort"
	opTrain    op = "train"
)

type level int

const (
	levelInfo level = iota
	levelWarn
	levelError
)

type notice struct {
	text  string
	level level
	seq   int
}

// snapshot is the list state captured before a request, restored when the
// request fails.
type snapshot struct {
	mode   mode
	models []botstore.ModelSummary
	latest string
	cursor int
	drawer *drawer
}

// drawer is the open learning-curve view.
type drawer struct {
	modelID   string
	selection *curve.Selection
	showLoss  bool
}

// Model is the BubbleTea console model.
type Model struct {
	ctx     context.Context
	backend Backend
	trainer Trainer
	opts    Options
	logger  *logging.Logger

	keys      KeyMap
	help      help.Model
	paginator paginator.Model
	spinner   spinner.Model
	slider    progress.Model

	mode       mode
	models     []botstore.ModelSummary
	latest     string
	cursor     int
	drawer     *drawer
	inflight   op
	undo       *snapshot
	training   string
	notice     *notice
	seq        int
	width      int
	height     int
	lastUpdate time.Time
	quitting   bool
}

// NewModel creates the console. trainer may be nil, which disables the
// training keys.
func NewModel(ctx context.Context, backend Backend, trainer Trainer, opts Options) Model {
	opts.applyDefaults()

	p := paginator.New()
	p.Type = paginator.Dots
	p.PerPage = opts.PageSize
	p.SetTotalPages(0)

	s := spinner.New()
	s.Spinner = spinner.Dot

	return Model{
		ctx:       ctx,
		backend:   backend,
		trainer:   trainer,
		opts:      opts,
		logger:    opts.Logger.Named("console"),
		keys:      DefaultKeyMap(),
		help:      help.New(),
		paginator: p,
		spinner:   s,
		slider: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
	}
}

// Run starts the console and blocks until the user quits or ctx is done.
func Run(ctx context.Context, backend Backend, trainer Trainer, opts Options) error {
	p := tea.NewProgram(
		NewModel(ctx, backend, trainer, opts),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Message types
type modelsMsg struct{ list *botstore.ModelList }

type curveMsg struct {
	modelID string
	series  *curve.Series
}

type deletedMsg struct {
	modelID string
	list    *botstore.ModelList
}

type downloadedMsg struct {
	modelID string
	path    string
	size    int64
}

type trainDoneMsg struct {
	requestID string
	result    *training.Result
	err       error
}

type abortedMsg struct {
	requestID string
	list      *botstore.ModelList
}

type failedMsg struct {
	op  op
	err error
}

type clearNoticeMsg struct{ seq int }

// Init loads the model list.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchModels())
}

func (m Model) fetchModels() tea.Cmd {
	backend, ctx := m.backend, m.ctx
	return func() tea.Msg {
		list, err := backend.ListModels(ctx)
		if err != nil {
			return failedMsg{op: opRefresh, err: err}
		}
		return modelsMsg{list: list}
	}
}

func (m Model) fetchCurve(modelID string) tea.Cmd {
	backend, ctx := m.backend, m.ctx
	return func() tea.Msg {
		s, err := backend.Curve(ctx, modelID)
		if err != nil {
			return failedMsg{op: opCurve, err: err}
		}
		return curveMsg{modelID: modelID, series: s}
	}
}

func (m Model) deleteModel(modelID string) tea.Cmd {
	backend, ctx := m.backend, m.ctx
	return func() tea.Msg {
		list, err := backend.DeleteModel(ctx, modelID)
		if err != nil {
			return failedMsg{op: opDelete, err: err}
		}
		return deletedMsg{modelID: modelID, list: list}
	}
}

func (m Model) saveModel(modelID string) tea.Cmd {
	backend, ctx, dir := m.backend, m.ctx, m.opts.DownloadDir
	return func() tea.Msg {
		path, n, err := backend.SaveModel(ctx, modelID, dir)
		if err != nil {
			return failedMsg{op: opDownload, err: err}
		}
		return downloadedMsg{modelID: modelID, path: path, size: n}
	}
}

// retrain fetches the configuration modelID was trained with and trains a
// new model from it.
func (m Model) retrain(requestID, modelID string) tea.Cmd {
	backend, trainer, ctx := m.backend, m.trainer, m.ctx
	return func() tea.Msg {
		cfg, err := backend.ModelConfig(ctx, modelID)
		if err != nil {
			return trainDoneMsg{requestID: requestID, err: err}
		}
		res, err := trainer.StartWithID(ctx, requestID, cfg, false)
		return trainDoneMsg{requestID: requestID, result: res, err: err}
	}
}

func (m Model) abort(requestID string) tea.Cmd {
	trainer, ctx := m.trainer, m.ctx
	return func() tea.Msg {
		id, list, err := trainer.Abort(ctx, requestID)
		if err != nil {
			return failedMsg{op: opAbort, err: err}
		}
		return abortedMsg{requestID: id, list: list}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case modelsMsg:
		m.finish(opRefresh)
		m.setModels(msg.list)
		m.lastUpdate = time.Now()
		return m, nil

	case curveMsg:
		m.finish(opCurve)
		if m.drawer == nil || m.drawer.modelID != msg.modelID {
			return m, nil
		}
		sel := curve.NewSelection(msg.series)
		sel.SetPatience(m.opts.Patience)
		m.drawer.selection = sel
		return m, nil

	case deletedMsg:
		m.finish(opDelete)
		m.setModels(msg.list)
		return m, m.notify(levelInfo, "Deleted "+msg.modelID)

	case downloadedMsg:
		m.finish(opDownload)
		return m, m.notify(levelInfo, fmt.Sprintf("Saved %s (%s) to %s", msg.modelID, FormatSize(msg.size), msg.path))

	case trainDoneMsg:
		return m.handleTrainDone(msg)

	case abortedMsg:
		m.finish(opAbort)
		if msg.requestID == m.training {
			m.training = ""
		}
		if msg.list != nil {
			m.setModels(msg.list)
		}
		return m, m.notify(levelInfo, "Aborted training "+msg.requestID)

	case failedMsg:
		m.logger.Warn(m.ctx, "console request failed", zap.String("op", string(msg.op)), zap.Error(msg.err))
		if m.inflight == msg.op {
			m.inflight = opNone
			if m.undo != nil {
				m.restore(*m.undo)
			}
			m.undo = nil
		}
		return m, m.notify(levelError, failureText(msg.op, msg.err))

	case clearNoticeMsg:
		if m.notice != nil && m.notice.seq == msg.seq {
			m.notice = nil
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	switch m.mode {
	case modeConfirmDelete:
		return m.handleConfirmKey(msg)
	case modeCurve:
		return m.handleCurveKey(msg)
	}
	return m.handleListKey(msg)
}

func (m Model) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)
	case key.Matches(msg, m.keys.PrevPage):
		m.paginator.PrevPage()
		m.cursor = m.paginator.Page * m.paginator.PerPage
	case key.Matches(msg, m.keys.NextPage):
		m.paginator.NextPage()
		m.cursor = m.paginator.Page * m.paginator.PerPage

	case key.Matches(msg, m.keys.Refresh):
		if !m.begin(opRefresh) {
			return m, m.busy()
		}
		return m, m.fetchModels()

	case key.Matches(msg, m.keys.Open):
		sel, ok := m.selected()
		if !ok {
			return m, nil
		}
		if !sel.HasCurve() {
			return m, m.notify(levelWarn, "No training logs for "+sel.ModelID)
		}
		if !m.begin(opCurve) {
			return m, m.busy()
		}
		m.mode = modeCurve
		m.drawer = &drawer{modelID: sel.ModelID, showLoss: true}
		return m, m.fetchCurve(sel.ModelID)

	case key.Matches(msg, m.keys.Delete):
		if _, ok := m.selected(); ok {
			m.mode = modeConfirmDelete
		}

	case key.Matches(msg, m.keys.Download):
		sel, ok := m.selected()
		if !ok {
			return m, nil
		}
		if !m.begin(opDownload) {
			return m, m.busy()
		}
		return m, m.saveModel(sel.ModelID)

	case key.Matches(msg, m.keys.Train):
		sel, ok := m.selected()
		if !ok || m.trainer == nil {
			return m, nil
		}
		if m.training != "" {
			return m, m.notify(levelWarn, "Training already running")
		}
		m.training = m.trainer.NewRequestID()
		return m, tea.Batch(
			m.retrain(m.training, sel.ModelID),
			m.notify(levelInfo, "Training started from "+sel.ModelID),
		)

	case key.Matches(msg, m.keys.Abort):
		if m.trainer == nil {
			return m, nil
		}
		if !m.begin(opAbort) {
			return m, m.busy()
		}
		return m, m.abort(m.training)
	}
	return m, nil
}

func (m Model) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		m.mode = modeList
		sel, ok := m.selected()
		if !ok {
			return m, nil
		}
		if !m.begin(opDelete) {
			return m, m.busy()
		}
		m.removeModel(sel.ModelID)
		return m, m.deleteModel(sel.ModelID)
	case key.Matches(msg, m.keys.Cancel):
		m.mode = modeList
	}
	return m, nil
}

func (m Model) handleCurveKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.mode = modeList
		m.drawer = nil
	case key.Matches(msg, m.keys.Toggle):
		if m.drawer != nil {
			m.drawer.showLoss = !m.drawer.showLoss
		}
	case key.Matches(msg, m.keys.Less):
		m.shiftPatience(-1)
	case key.Matches(msg, m.keys.More):
		m.shiftPatience(1)
	}
	return m, nil
}

func (m Model) handleTrainDone(msg trainDoneMsg) (tea.Model, tea.Cmd) {
	if msg.requestID != m.training {
		m.logger.Debug(m.ctx, "ignoring stale training result", zap.String("request_id", msg.requestID))
		return m, nil
	}
	m.training = ""
	if msg.err != nil {
		m.logger.Warn(m.ctx, "training failed", zap.String("request_id", msg.requestID), zap.Error(msg.err))
		return m, m.notify(levelError, failureText(opTrain, msg.err))
	}
	if msg.result.Models != nil {
		m.setModels(msg.result.Models)
	}
	text := fmt.Sprintf("Trained %s in %s", msg.result.ModelID, FormatDuration(msg.result.Duration))
	if msg.result.ModelID == "" {
		text = "Training finished in " + FormatDuration(msg.result.Duration)
	}
	return m, m.notify(levelInfo, text)
}

// begin marks op as in flight and captures the state to restore when it
// fails. Only one foreground request runs at a time.
func (m *Model) begin(o op) bool {
	if m.inflight != opNone {
		return false
	}
	s := m.snapshot()
	m.undo = &s
	m.inflight = o
	return true
}

func (m *Model) finish(o op) {
	if m.inflight == o {
		m.inflight = opNone
		m.undo = nil
	}
}

func (m *Model) snapshot() snapshot {
	return snapshot{
		mode:   m.mode,
		models: append([]botstore.ModelSummary(nil), m.models...),
		latest: m.latest,
		cursor: m.cursor,
		drawer: m.drawer,
	}
}

func (m *Model) restore(s snapshot) {
	m.mode = s.mode
	m.drawer = s.drawer
	m.latest = s.latest
	m.models = s.models
	m.paginator.SetTotalPages(len(m.models))
	m.setCursor(s.cursor)
}

func (m *Model) setModels(list *botstore.ModelList) {
	if list == nil {
		return
	}
	selected, _ := m.selected()
	m.models = append([]botstore.ModelSummary(nil), list.Models...)
	botstore.SortNewestFirst(m.models)
	m.latest = list.Latest
	m.paginator.SetTotalPages(len(m.models))

	cursor := m.cursor
	for i, s := range m.models {
		if s.ModelID == selected.ModelID {
			cursor = i
			break
		}
	}
	m.setCursor(cursor)
}

func (m *Model) removeModel(modelID string) {
	kept := m.models[:0:0]
	for _, s := range m.models {
		if s.ModelID != modelID {
			kept = append(kept, s)
		}
	}
	m.models = kept
	if m.latest == modelID {
		m.latest = ""
	}
	m.paginator.SetTotalPages(len(m.models))
	m.setCursor(m.cursor)
}

func (m *Model) moveCursor(delta int) {
	m.setCursor(m.cursor + delta)
}

// setCursor clamps i into the list and moves to its page.
func (m *Model) setCursor(i int) {
	if i >= len(m.models) {
		i = len(m.models) - 1
	}
	if i < 0 {
		i = 0
	}
	m.cursor = i
	m.paginator.Page = i / m.paginator.PerPage
}

func (m *Model) selected() (botstore.ModelSummary, bool) {
	if m.cursor < 0 || m.cursor >= len(m.models) {
		return botstore.ModelSummary{}, false
	}
	return m.models[m.cursor], true
}

func (m *Model) shiftPatience(delta int) {
	m.opts.Patience = curve.ClampPatience(m.opts.Patience + delta)
	if m.drawer != nil && m.drawer.selection != nil {
		m.drawer.selection.SetPatience(m.opts.Patience)
	}
}

func (m *Model) notify(l level, text string) tea.Cmd {
	m.seq++
	seq := m.seq
	m.notice = &notice{text: text, level: l, seq: seq}
	return tea.Tick(m.opts.NotificationTimeout, func(time.Time) tea.Msg {
		return clearNoticeMsg{seq: seq}
	})
}

func (m *Model) busy() tea.Cmd {
	return m.notify(levelWarn, fmt.Sprintf("Waiting for %s to finish", m.inflight))
}

// failureText turns a request error into a notification.
func failureText(o op, err error) string {
	var what string
	switch o {
	case opRefresh:
		what = "Could not load models"
	case opCurve:
		what = "Could not load curves"
	case opDelete:
		what = "Could not delete model"
	case opDownload:
		what = "Could not download model"
	case opTrain:
		what = "Training failed"
	case opAbort:
		what = "Could not abort training"
	default:
		what = "Request failed"
	}

	var be *botstore.Error
	switch {
	case errors.Is(err, context.Canceled):
		return what + ": cancelled"
	case errors.As(err, &be) && be.Detail != "" && errors.Is(err, botstore.ErrBackend):
		return what + ": " + be.Detail
	case errors.Is(err, botstore.ErrTransport):
		return what + ": backend unreachable"
	}
	return what + ": " + err.Error()
}
