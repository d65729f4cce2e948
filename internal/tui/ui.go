package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/corral/internal/api"
	"github.com/Paintersrp/corral/internal/engine"
)

const (
	tableTitle          = "Processes"
	historyTitle        = "History"
	filterPageName      = "filter"
	defaultPollInterval = time.Second
	stopTimeout         = 10 * time.Second
)

// Source supplies status snapshots.
type Source interface {
	Status(ctx context.Context) (*api.StatusReport, error)
}

// Stopper stops applications on request from the UI.
type Stopper interface {
	Stop(ctx context.Context, product, app string, force bool) (engine.Outcome, error)
}

// Option configures UI behaviour.
type Option func(*UI)

// WithPollInterval sets how often the status source is polled.
func WithPollInterval(d time.Duration) Option {
	return func(u *UI) {
		if d > 0 {
			u.interval = d
		}
	}
}

// WithStopper enables the stop shortcuts.
func WithStopper(s Stopper) Option {
	return func(u *UI) {
		u.stopper = s
	}
}

// UI coordinates the interactive status interface backed by tview.
type UI struct {
	app     *tview.Application
	pages   *tview.Pages
	table   *tview.Table
	details *tview.TextView
	status  *tview.TextView

	source   Source
	stopper  Stopper
	interval time.Duration

	report   *api.StatusReport
	rows     []row
	selected string

	detailsPretty  bool
	filter         string
	filterExpr     *regexp.Regexp
	detailsFocused bool
	notice         string

	mu sync.RWMutex

	stopOnce sync.Once
	done     chan struct{}
}

// row is one tracked process in the table.
type row struct {
	key      string
	appKey   string
	product  string
	app      string
	pid      int
	level    int
	draining bool
	since    time.Time
}

// New constructs a UI polling source.
func New(source Source, opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	details := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	details.SetBorder(true).SetTitle(historyTitle)

	status := tview.NewTextView().SetDynamicColors(true)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 3, true).
		AddItem(details, 0, 2, false).
		AddItem(status, 1, 0, false)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := &UI{
		app:           app,
		pages:         pages,
		table:         table,
		details:       details,
		status:        status,
		source:        source,
		interval:      defaultPollInterval,
		detailsPretty: true,
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(ui)
	}

	table.SetSelectionChangedFunc(ui.onSelectionChanged)

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshTableLocked()
	ui.mu.Unlock()

	return ui
}

// Done returns a channel that is closed when the UI stops.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Run starts the tview application and polls the source until Stop is
// invoked or ctx is cancelled.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		u.poll(ctx)
	}()

	go func() {
		<-ctx.Done()
		u.Stop()
	}()

	err := u.app.Run()
	cancel()
	wg.Wait()
	u.Stop()
	return err
}

// Stop terminates the application loop.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.app.Stop()
		close(u.done)
	})
}

func (u *UI) poll(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		u.fetch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (u *UI) fetch(ctx context.Context) {
	report, err := u.source.Status(ctx)
	if ctx.Err() != nil {
		return
	}
	u.mu.Lock()
	if err != nil {
		u.notice = fmt.Sprintf("[red]status unavailable: %v", err)
	} else {
		u.applyReportLocked(report)
	}
	u.mu.Unlock()
	u.queueRefresh()
}

// applyReportLocked replaces the current snapshot.
func (u *UI) applyReportLocked(report *api.StatusReport) {
	u.report = report
	u.notice = ""
	u.rows = u.rows[:0]
	if report == nil {
		return
	}
	add := func(records []engine.Record, draining bool) {
		for _, rec := range records {
			u.rows = append(u.rows, row{
				key:      fmt.Sprintf("%s/%s#%d", rec.Product, rec.App, rec.PID),
				appKey:   rec.Product + "/" + rec.App,
				product:  rec.Product,
				app:      rec.App,
				pid:      rec.PID,
				level:    rec.Level,
				draining: draining,
				since:    rec.Since,
			})
		}
	}
	add(report.Active, false)
	add(report.Draining, true)
	sort.SliceStable(u.rows, func(i, j int) bool {
		if u.rows[i].appKey != u.rows[j].appKey {
			return u.rows[i].appKey < u.rows[j].appKey
		}
		return u.rows[i].pid < u.rows[j].pid
	})
}

func (u *UI) queueRefresh() {
	u.app.QueueUpdateDraw(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked()
		u.renderDetailsLocked()
	})
}

func (u *UI) overlayActive() bool {
	name, _ := u.pages.GetFrontPage()
	return name == filterPageName
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if u.overlayActive() {
		return event
	}
	switch event.Key() {
	case tcell.KeyEnter:
		u.toggleFocus()
		return nil
	case tcell.KeyUp, tcell.KeyDown:
		return event
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			go u.Stop()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		case 'j', 'J':
			u.toggleJSON()
			return nil
		case 's':
			u.stopSelected(false)
			return nil
		case 'K':
			u.stopSelected(true)
			return nil
		}
	}
	return event
}

func (u *UI) toggleFocus() {
	if u.detailsFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.details)
	}
	u.detailsFocused = !u.detailsFocused
}

func (u *UI) toggleJSON() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.detailsPretty = !u.detailsPretty
	u.renderDetailsLocked()
}

// stopSelected stops the application owning the selected row in the
// background and reports the outcome in the status line.
func (u *UI) stopSelected(force bool) {
	u.mu.RLock()
	target, ok := u.selectedRowLocked()
	stopper := u.stopper
	u.mu.RUnlock()
	if !ok || stopper == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		outcome, err := stopper.Stop(ctx, target.product, target.app, force)
		u.mu.Lock()
		if err != nil {
			u.notice = fmt.Sprintf("[red]stop %s: %v", target.appKey, err)
		} else {
			u.notice = fmt.Sprintf("stop %s: %s", target.appKey, outcome)
		}
		u.mu.Unlock()
		u.queueRefresh()
	}()
}

func (u *UI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("Regex filter: ").
		SetText(current).
		SetFieldWidth(40)

	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			u.applyFilter(input.GetText())
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		}).
		AddButton("Cancel", func() {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	form.SetBorder(true).SetTitle("Filter Applications")

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	u.pages.AddPage(filterPageName, grid, true, true)
	u.app.SetFocus(input)
}

func (u *UI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		u.mu.Lock()
		u.filter = ""
		u.filterExpr = nil
		u.mu.Unlock()
		u.queueRefresh()
		return
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		u.showErrorModal(fmt.Sprintf("Invalid filter: %v", err))
		return
	}

	u.mu.Lock()
	u.filter = expr
	u.filterExpr = re
	u.mu.Unlock()
	u.queueRefresh()
}

func (u *UI) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	u.pages.RemovePage(filterPageName)
	u.pages.AddPage(filterPageName, modal, true, true)
}

// visibleRowsLocked applies the filter to the current rows.
func (u *UI) visibleRowsLocked() []row {
	if u.filterExpr == nil {
		return u.rows
	}
	visible := make([]row, 0, len(u.rows))
	for _, r := range u.rows {
		if u.filterExpr.MatchString(r.appKey) {
			visible = append(visible, r)
		}
	}
	return visible
}

func (u *UI) refreshTableLocked() {
	u.table.Clear()

	headers := []string{"APPLICATION", "PID", "LEVEL", "STATE", "AGE"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold)
		u.table.SetCell(0, col, cell)
	}

	if u.filter != "" {
		u.table.SetTitle(fmt.Sprintf("%s /%s/", tableTitle, u.filter))
	} else {
		u.table.SetTitle(tableTitle)
	}

	now := time.Now()
	visible := u.visibleRowsLocked()
	for idx, r := range visible {
		state := "Running"
		color := tcell.ColorGreen
		if r.draining {
			state = "Draining"
			color = tcell.ColorYellow
		}
		age := "-"
		if !r.since.IsZero() {
			age = units.HumanDuration(now.Sub(r.since))
		}
		values := []string{r.appKey, fmt.Sprintf("%d", r.pid), fmt.Sprintf("%d", r.level), state, age}
		for col, value := range values {
			cell := tview.NewTableCell(value)
			if col == 0 {
				cell = cell.SetReference(r.key)
			}
			if col == 3 {
				cell = cell.SetTextColor(color)
			}
			u.table.SetCell(idx+1, col, cell)
		}
	}

	u.ensureSelectionLocked(visible)
	u.renderStatusLocked()
}

func (u *UI) renderStatusLocked() {
	u.status.Clear()
	if u.notice != "" {
		fmt.Fprint(u.status, u.notice)
		return
	}
	if u.report == nil {
		fmt.Fprint(u.status, "waiting for status...")
		return
	}
	launching := "[green]launching enabled[-]"
	if u.report.LaunchingDisabled {
		launching = "[red]launching disabled[-]"
	}
	boot := "boot pending"
	if u.report.BootLaunched {
		boot = "boot launched"
	}
	fmt.Fprintf(u.status, "%s  %s  active %d  draining %d  (q quit, / filter, s stop, K kill)",
		launching, boot, len(u.report.Active), len(u.report.Draining))
}

func (u *UI) renderDetailsLocked() {
	u.details.Clear()
	selected, ok := u.selectedRowLocked()
	if !ok || u.report == nil {
		u.details.SetTitle(historyTitle)
		return
	}
	u.details.SetTitle(fmt.Sprintf("%s (%s)", historyTitle, selected.appKey))

	for _, entry := range u.report.History[selected.appKey] {
		if !u.detailsPretty {
			data, err := json.Marshal(entry)
			if err != nil {
				fmt.Fprintf(u.details, "{\"error\":\"%v\"}\n", err)
				continue
			}
			fmt.Fprintf(u.details, "%s\n", data)
			continue
		}
		fmt.Fprintf(u.details, "%s  %-14s %s\n",
			entry.Timestamp.Format(time.TimeOnly),
			formatState(entry.Type),
			formatTransitionMessage(entry))
	}
	u.details.ScrollToEnd()
}

func (u *UI) selectedRowLocked() (row, bool) {
	for _, r := range u.visibleRowsLocked() {
		if r.key == u.selected {
			return r, true
		}
	}
	return row{}, false
}

func (u *UI) onSelectionChanged(r, column int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.syncSelection(r)
	u.renderDetailsLocked()
}

// selectLocked moves the table cursor without re-entering onSelectionChanged.
func (u *UI) selectLocked(r int) {
	u.table.SetSelectionChangedFunc(nil)
	u.table.Select(r, 0)
	u.table.SetSelectionChangedFunc(u.onSelectionChanged)
}

func (u *UI) ensureSelectionLocked(visible []row) {
	if len(visible) == 0 {
		u.selected = ""
		u.selectLocked(0)
		return
	}

	idx := -1
	for i, r := range visible {
		if r.key == u.selected {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = 0
		u.selected = visible[0].key
	}
	u.selectLocked(idx + 1)
}

func (u *UI) syncSelection(r int) {
	visible := u.visibleRowsLocked()
	if r <= 0 || r-1 >= len(visible) {
		return
	}
	u.selected = visible[r-1].key
}

func formatTransitionMessage(t api.Transition) string {
	parts := make([]string, 0, 3)
	if t.PID > 0 {
		parts = append(parts, fmt.Sprintf("pid %d", t.PID))
	}
	if t.Message != "" {
		parts = append(parts, t.Message)
	}
	msg := strings.Join(parts, ": ")
	switch {
	case msg != "" && t.Reason != "":
		return fmt.Sprintf("%s (%s)", msg, t.Reason)
	case t.Reason != "":
		return t.Reason
	default:
		return msg
	}
}

func formatState(t engine.EventType) string {
	if t == "" {
		return "-"
	}
	s := strings.ReplaceAll(string(t), "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}
