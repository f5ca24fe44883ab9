// Package enrich resolves a caller's IP address to best-effort geo/ASN
// metadata for ACCESS log records. It never blocks or fails the request
// path: absent configuration, or on any lookup miss, it is a no-op.
package enrich

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/oschwald/maxminddb-golang"
)

// mmdbRecord contains only the fields decoded from the MMDB file.
// ASN fields sit at root level, matching GeoLite2-ASN / GeoIP2-ASN.
type mmdbRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	ASNumber uint `maxminddb:"autonomous_system_number"`
}

// GeoIP resolves IPs to {country, asn} using a MaxMind MMDB file, hot
// reloaded on change. Safe for concurrent use; the reader is swapped
// atomically so Enrich never observes a half-open file.
type GeoIP struct {
	reader atomic.Pointer[maxminddb.Reader]

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// New creates an empty GeoIP table. Enrich is a no-op until Load succeeds.
func New() *GeoIP {
	return &GeoIP{}
}

// Load opens an MMDB file and swaps the atomic reader pointer, closing the
// previous reader (if any) after the swap.
func (g *GeoIP) Load(path string) error {
	r, err := maxminddb.Open(path)
	if err != nil {
		return fmt.Errorf("open mmdb %q: %w", path, err)
	}
	if old := g.reader.Swap(r); old != nil {
		_ = old.Close()
	}
	return nil
}

// Watch loads path and then watches it for changes, reloading on write or
// recreate. Calling Watch again replaces any previous watch.
func (g *GeoIP) Watch(path string) error {
	if err := g.Load(path); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopWatchLocked()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %q: %w", path, err)
	}

	g.watcher = w
	g.watchDone = make(chan struct{})
	go g.watchLoop(w, path, g.watchDone)
	return nil
}

func (g *GeoIP) watchLoop(w *fsnotify.Watcher, path string, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				_ = g.Load(path)
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

func (g *GeoIP) stopWatchLocked() {
	if g.watcher != nil {
		_ = g.watcher.Close()
		<-g.watchDone
		g.watcher = nil
		g.watchDone = nil
	}
}

// Close stops the file watcher, if any, and closes the current reader.
func (g *GeoIP) Close() error {
	g.mu.Lock()
	g.stopWatchLocked()
	g.mu.Unlock()

	if r := g.reader.Swap(nil); r != nil {
		return r.Close()
	}
	return nil
}

// Enrich implements logging.EnrichFunc: it reads data["remote_addr"] and,
// on a successful lookup, sets data["country"] and/or data["asn"]. A miss,
// an unloaded database, or an unparseable address all leave data untouched.
func (g *GeoIP) Enrich(data map[string]string) {
	r := g.reader.Load()
	if r == nil {
		return
	}
	addr := data["remote_addr"]
	if addr == "" {
		return
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return
	}

	var rec mmdbRecord
	if err := r.Lookup(ip, &rec); err != nil {
		return
	}
	if rec.Country.ISOCode != "" {
		data["country"] = rec.Country.ISOCode
	}
	if rec.ASNumber != 0 {
		data["asn"] = "AS" + strconv.FormatUint(uint64(rec.ASNumber), 10)
	}
}
