// Package announce manages the screen-reader live region for loading
// transitions.
//
// One region element with a fixed id is created lazily in the document
// body and reused by every announcer instance, so repeated engine
// initialization cannot stack duplicate regions. Announcements are written
// as the region's sole text and cleared a second later unless a newer
// announcement has replaced them.
package announce

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/loadx/dom"
	"github.com/hazyhaar/loadx/schedule"
)

// RegionID is the fixed id of the live-region element.
const RegionID = "lx-live-region"

// srOnlyClass visually hides the region while keeping it exposed to
// assistive technology.
const srOnlyClass = "lx-sr-only"

// clearAfter is how long an announcement stays before auto-clearing.
const clearAfter = 1000 * time.Millisecond

// Announcer writes polite or assertive messages into the live region.
type Announcer struct {
	doc    *dom.Document
	sched  *schedule.Scheduler
	prefix string
	logger *slog.Logger

	mu    sync.Mutex
	clear *schedule.Task
}

// New builds an announcer for doc. The scheduler drives the auto-clear
// timer; prefix names the urgency attribute (empty means "lx").
func New(doc *dom.Document, sched *schedule.Scheduler, prefix string, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "lx"
	}
	return &Announcer{doc: doc, sched: sched, prefix: prefix, logger: logger}
}

// Region returns the live-region element, creating it on first use. The
// fixed id keeps creation idempotent across announcer instances.
func (a *Announcer) Region() *dom.Element {
	if el := a.doc.GetByID(RegionID); el != nil {
		return el
	}
	body := a.doc.Body()
	if body == nil {
		return nil
	}
	region := a.doc.CreateElement("div")
	region.SetAttr("id", RegionID)
	region.SetAttr("aria-live", "polite")
	region.SetAttr("aria-atomic", "true")
	region.SetAttr("class", srOnlyClass)
	body.AppendChild(region)
	a.logger.Debug("live region created")
	return region
}

// Announce writes message into the live region. The region turns assertive
// when source carries the urgency attribute, polite otherwise. A pending
// auto-clear from an earlier announcement is cancelled; the new one clears
// after a second unless something newer supersedes it first. It returns
// the politeness level it used, "polite" or "assertive".
func (a *Announcer) Announce(message string, source *dom.Element) string {
	region := a.Region()
	if region == nil {
		return ""
	}

	a.mu.Lock()
	if a.clear != nil {
		a.clear.Cancel()
		a.clear = nil
	}
	a.mu.Unlock()

	urgency := "polite"
	if a.urgent(source) {
		urgency = "assertive"
	}
	region.SetAttr("aria-live", urgency)
	region.SetText(message)

	assertive := urgency == "assertive"
	task := a.sched.After(clearAfter, func() {
		// Only clear if no newer announcement replaced the text.
		if region.Text() != message {
			return
		}
		region.SetText("")
		if assertive {
			region.SetAttr("aria-live", "polite")
		}
	})

	a.mu.Lock()
	a.clear = task
	a.mu.Unlock()

	return urgency
}

// Stop cancels any pending auto-clear. Teardown path; safe to repeat.
func (a *Announcer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.clear != nil {
		a.clear.Cancel()
		a.clear = nil
	}
}

func (a *Announcer) urgent(source *dom.Element) bool {
	if source == nil {
		return false
	}
	attr := a.prefix + "-urgent"
	return source.HasAttr(attr) && source.Attr(attr) != "false"
}
