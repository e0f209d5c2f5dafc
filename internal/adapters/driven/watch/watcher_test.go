package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
)

// fakeImporter records every path handed to ImportFile.
type fakeImporter struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeImporter) ImportFile(_ context.Context, path string) ([]domain.FetchedTransaction, domain.ImportStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return []domain.FetchedTransaction{{ExternalID: "t1"}}, domain.ImportStats{TotalRows: 1, Imported: 1}, nil
}

func (f *fakeImporter) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

// runWatcher starts the watcher with a short settle interval and
// returns a collector of results plus a stop function.
func runWatcher(t *testing.T, dir string, imp *fakeImporter) (func() []Result, func()) {
	t.Helper()

	var mu sync.Mutex
	var results []Result

	w := New(dir, imp, func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	})
	w.settle = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	collect := func() []Result {
		mu.Lock()
		defer mu.Unlock()
		return append([]Result(nil), results...)
	}
	stop := func() {
		cancel()
		<-done
	}
	return collect, stop
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWatcher_ImportsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	imp := &fakeImporter{}
	collect, stop := runWatcher(t, dir, imp)
	defer stop()

	path := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(path, []byte("Date,Amount,Description\n"), 0644))

	waitFor(t, func() bool { return len(collect()) == 1 })

	results := collect()
	assert.Equal(t, path, results[0].Path)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[0].Stats.Imported)
}

func TestWatcher_ImportsPreexistingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "statement.txt")
	require.NoError(t, os.WriteFile(path, []byte("DATE:2024-03-21\n"), 0644))

	imp := &fakeImporter{}
	collect, stop := runWatcher(t, dir, imp)
	defer stop()

	waitFor(t, func() bool { return len(collect()) == 1 })
	assert.Equal(t, []string{path}, imp.seen())
}

func TestWatcher_IgnoresHiddenAndUnknownFiles(t *testing.T) {
	dir := t.TempDir()
	imp := &fakeImporter{}
	collect, stop := runWatcher(t, dir, imp)
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".partial.csv"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.png"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "export.csv"), []byte("x"), 0644))

	waitFor(t, func() bool { return len(collect()) == 1 })

	// Give the ignored files a chance to show up if they were going to.
	time.Sleep(150 * time.Millisecond)
	results := collect()
	require.Len(t, results, 1)
	assert.Equal(t, filepath.Join(dir, "export.csv"), results[0].Path)
}

func TestWatcher_WaitsForGrowingFileToSettle(t *testing.T) {
	dir := t.TempDir()
	imp := &fakeImporter{}
	collect, stop := runWatcher(t, dir, imp)
	defer stop()

	path := filepath.Join(dir, "slow.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = f.WriteString("Date,Amount\n")
	require.NoError(t, err)

	// Keep appending past the first settle deadline.
	time.Sleep(60 * time.Millisecond)
	_, err = f.WriteString("2024-03-21,-12.34\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	waitFor(t, func() bool { return len(collect()) == 1 })
	assert.Len(t, imp.seen(), 1)
}

func TestWatcher_Eligible(t *testing.T) {
	w := New(t.TempDir(), &fakeImporter{}, nil)

	assert.True(t, w.eligible("/drop/export.csv"))
	assert.True(t, w.eligible("/drop/Umsaetze.TXT"))
	assert.True(t, w.eligible("/drop/app.log"))
	assert.False(t, w.eligible("/drop/.hidden.csv"))
	assert.False(t, w.eligible("/drop/statement.pdf"))
}
