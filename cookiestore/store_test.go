package cookiestore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "cookies.json"))
	require.NoError(t, err)
	return s
}

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)
	require.Empty(t, s.Domains())
	require.NotNil(t, s.Get("example.com"))
	require.Empty(t, s.Get("example.com"))
}

func TestImportDomain_SessionCookieScenario(t *testing.T) {
	s := newTestStore(t)
	rec := Record{Name: "sid", Value: "abc", Domain: "chat.example.com", Path: "/", ExpiresAt: 0, Secure: true, HTTPOnly: true}
	require.NoError(t, s.ImportDomain("chat.example.com", []Record{rec}))

	got := s.Get("chat.example.com")
	require.Equal(t, []Record{rec}, got)
	require.Equal(t, "sid=abc", CookieHeader(got, time.Now()))

	reopened, err := Open(s.Path())
	require.NoError(t, err)
	require.Equal(t, []Record{rec}, reopened.Get("chat.example.com"))
}

func TestImportDomain_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	records := []Record{
		{Name: "a", Value: "1", Domain: "x.test"},
		{Name: "b", Value: "2", Domain: "x.test"},
	}
	require.NoError(t, s.ImportDomain("x.test", records))
	require.NoError(t, s.ImportDomain("x.test", records))
	require.Equal(t, records, s.Get("x.test"))
}

func TestImportDomain_ReplacesWholesale(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ImportDomain("x.test", []Record{{Name: "old", Value: "1", Domain: "x.test"}}))
	require.NoError(t, s.ImportDomain("x.test", []Record{{Name: "new", Value: "2", Domain: "x.test"}}))
	got := s.Get("x.test")
	require.Len(t, got, 1)
	require.Equal(t, "new", got[0].Name)
}

func TestImportDomain_DedupesLastWinsFirstPosition(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ImportDomain("x.test", []Record{
		{Name: "a", Value: "1", Domain: "x.test"},
		{Name: "b", Value: "2", Domain: "x.test"},
		{Name: "a", Value: "3", Domain: "x.test"},
		{Name: "", Value: "ignored"},
	}))
	got := s.Get("x.test")
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].Name)
	require.Equal(t, "3", got[0].Value)
	require.Equal(t, "b", got[1].Name)
}

func TestImportDomain_FillsMissingDomain(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ImportDomain("X.Test", []Record{{Name: "a", Value: "1"}}))
	got := s.Get("x.test")
	require.Len(t, got, 1)
	require.Equal(t, "x.test", got[0].Domain)
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ImportDomain("x.test", []Record{{Name: "a", Value: "1", Domain: "x.test"}}))
	got := s.Get("x.test")
	got[0].Value = "mutated"
	require.Equal(t, "1", s.Get("x.test")[0].Value)
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ImportDomain("a.test", []Record{{Name: "a", Value: "1"}}))
	require.NoError(t, s.ImportDomain("b.test", []Record{{Name: "b", Value: "2"}}))
	require.Equal(t, []string{"a.test", "b.test"}, s.Domains())

	require.NoError(t, s.Clear("a.test"))
	require.Equal(t, []string{"b.test"}, s.Domains())

	require.NoError(t, s.Clear(""))
	require.Empty(t, s.Domains())

	reopened, err := Open(s.Path())
	require.NoError(t, err)
	require.Empty(t, reopened.Domains())
}

func TestLoad_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := Open(path)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStoreCorrupt))
}

func TestLoad_AcceptsExpiresAlias(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	doc := `{"x.test":[{"name":"a","value":"1","domain":"x.test","path":"/","expires":1700000000,"secure":true,"httpOnly":false}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	s, err := Open(path)
	require.NoError(t, err)
	got := s.Get("x.test")
	require.Len(t, got, 1)
	require.Equal(t, int64(1700000000), got[0].ExpiresAt)
	require.True(t, got[0].Secure)
}

func TestFlush_WritesPrivateFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not enforced on windows")
	}
	s := newTestStore(t)
	require.NoError(t, s.ImportDomain("x.test", []Record{{Name: "a", Value: "1"}}))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var doc map[string][]map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Contains(t, doc["x.test"][0], "expiresAt")
	require.Contains(t, doc["x.test"][0], "httpOnly")
}

func TestImportDomain_WriteFailureRollsBack(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("requires a non-root unix user to make a directory read-only")
	}
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "cookies.json"))
	require.NoError(t, err)
	require.NoError(t, s.ImportDomain("x.test", []Record{{Name: "a", Value: "1"}}))

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	err = s.ImportDomain("x.test", []Record{{Name: "b", Value: "2"}})
	require.ErrorIs(t, err, ErrWrite)
	got := s.Get("x.test")
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Name)

	err = s.ImportDomain("y.test", []Record{{Name: "c", Value: "3"}})
	require.ErrorIs(t, err, ErrWrite)
	require.Equal(t, []string{"x.test"}, s.Domains())
}

func TestCookieHeader_SkipsExpired(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	records := []Record{
		{Name: "live", Value: "1", ExpiresAt: now.Unix() + 60},
		{Name: "dead", Value: "2", ExpiresAt: now.Unix() - 1},
		{Name: "session", Value: "3"},
	}
	require.Equal(t, "live=1; session=3", CookieHeader(records, now))
	require.Equal(t, "", CookieHeader(nil, now))
}

func TestDomainFromURL(t *testing.T) {
	d, err := DomainFromURL("http://LocalHost:8080/v1")
	require.NoError(t, err)
	require.Equal(t, "localhost:8080", d)

	d, err = DomainFromURL("https://Chat.Example.com/api")
	require.NoError(t, err)
	require.Equal(t, "chat.example.com", d)

	_, err = DomainFromURL("/relative/only")
	require.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	got, err := ExpandPath("~/.freeloader/cookies.json")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".freeloader", "cookies.json"), got)

	got, err = ExpandPath("/tmp/x.json")
	require.NoError(t, err)
	require.Equal(t, "/tmp/x.json", got)
}

func TestLoad_NormalizesDomainKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	doc := `{
		"Example.com":[{"name":"a","value":"old","domain":"example.com"},{"name":"b","value":"2","domain":"example.com"}],
		"example.com":[{"name":"a","value":"new","domain":"example.com"}],
		"localhost:8080":[{"name":"sid","value":"1"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	s, err := Open(path)
	require.NoError(t, err)

	require.Equal(t, []string{"example.com", "localhost:8080"}, s.Domains())
	got := s.Get("Example.com")
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].Name)
	require.Equal(t, "new", got[0].Value)
	require.Equal(t, "b", got[1].Name)

	require.NoError(t, s.ImportDomain("EXAMPLE.com", []Record{{Name: "c", Value: "3"}}))
	require.Equal(t, []string{"example.com", "localhost:8080"}, s.Domains())
	require.Len(t, s.Get("example.com"), 1)
}

func TestLookup_FallsBackToHostWithoutPort(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.ImportDomain("localhost:8080", []Record{{Name: "gw", Value: "1"}}))
	require.NoError(t, s.ImportDomain("localhost", []Record{{Name: "browser", Value: "2"}}))

	require.Equal(t, "gw", s.Lookup("localhost:8080")[0].Name)
	require.Equal(t, "browser", s.Lookup("localhost:8081")[0].Name)
	require.Equal(t, "browser", s.Lookup("localhost")[0].Name)
	require.Empty(t, s.Lookup("other.test:9000"))
}

// 并发读写：读者看到的要么是完整的旧列表，要么是完整的新列表。
func TestStore_ConcurrentReadersSeeWholeLists(t *testing.T) {
	s := newTestStore(t)
	listA := []Record{{Name: "a1", Value: "1"}, {Name: "a2", Value: "2"}, {Name: "a3", Value: "3"}}
	listB := []Record{{Name: "b1", Value: "1"}, {Name: "b2", Value: "2"}, {Name: "b3", Value: "3"}, {Name: "b4", Value: "4"}, {Name: "b5", Value: "5"}}
	require.NoError(t, s.ImportDomain("x.test", listA))

	names := func(records []Record) []string {
		out := make([]string, 0, len(records))
		for _, r := range records {
			out = append(out, r.Name)
		}
		return out
	}
	wantA, wantB := names(dedupe("x.test", listA)), names(dedupe("x.test", listB))

	done := make(chan struct{})
	errs := make(chan string, 8)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				got := names(s.Get("x.test"))
				switch {
				case len(got) == 0:
				case len(got) == len(wantA) && got[0] == wantA[0]:
					if !slices.Equal(got, wantA) {
						errs <- "partial list A"
						return
					}
				case len(got) == len(wantB) && got[0] == wantB[0]:
					if !slices.Equal(got, wantB) {
						errs <- "partial list B"
						return
					}
				default:
					errs <- "unexpected list"
					return
				}
			}
		}()
	}

	for i := 0; i < 30; i++ {
		switch i % 3 {
		case 0:
			require.NoError(t, s.ImportDomain("x.test", listB))
		case 1:
			require.NoError(t, s.Clear("x.test"))
		default:
			require.NoError(t, s.ImportDomain("x.test", listA))
		}
	}
	close(done)
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatal(msg)
	}
	require.Equal(t, wantA, names(s.Get("x.test")))
}
