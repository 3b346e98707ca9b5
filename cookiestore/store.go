package cookiestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrStoreCorrupt 磁盘上的文档存在但无法解析。
	ErrStoreCorrupt = errors.New("cookie store is corrupt")
	// ErrWrite 无法写入存储位置。
	ErrWrite = errors.New("cookie store is not writable")
)

const (
	dirPerm  fs.FileMode = 0o700
	filePerm fs.FileMode = 0o600
)

// DefaultPath 返回默认存储路径 ~/.freeloader/cookies.json。
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".freeloader", "cookies.json"), nil
}

// ExpandPath 展开路径开头的 ~。
func ExpandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// Store 是 domain → cookie 列表的持久化映射，可并发使用。
type Store struct {
	path string

	mu      sync.RWMutex
	domains map[string][]Record
}

// Open 打开（并加载）指定路径的存储。path 为空时使用 DefaultPath。
// 文件不存在不是错误，得到一个空存储。
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		path:    expanded,
		domains: map[string][]Record{},
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path 返回存储文件路径。
func (s *Store) Path() string {
	return s.path
}

// Load 从磁盘重新读取文档，替换内存中的内容。
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.mu.Lock()
			s.domains = map[string][]Record{}
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read cookie store %s: %w", s.path, err)
	}

	decoded := map[string][]Record{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrStoreCorrupt, s.path, err)
		}
	}
	domains := normalizeDocument(decoded)
	if len(domains) != len(decoded) {
		log.Warnf("cookie store %s: merged %d domain keys into %d", s.path, len(decoded), len(domains))
	}

	s.mu.Lock()
	s.domains = domains
	s.mu.Unlock()
	log.Debugf("cookie store loaded from %s (%d domains)", s.path, len(domains))
	return nil
}

// ImportDomain 用 records 整体替换 domain 下的记录并同步落盘。
// 写盘失败时回滚内存，保证内存与磁盘一致。
func (s *Store) ImportDomain(domain string, records []Record) error {
	domain = normalizeDomain(domain)
	if domain == "" {
		return errors.New("domain is required")
	}
	next := dedupe(domain, records)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.domains[domain]
	s.domains[domain] = next
	if err := s.flushLocked(); err != nil {
		if had {
			s.domains[domain] = prev
		} else {
			delete(s.domains, domain)
		}
		return err
	}
	log.Infof("imported %d cookies for %s", len(next), domain)
	return nil
}

// Lookup 与 Get 相同，但带端口的 key 没有记录时退回到不带端口的 host。
func (s *Store) Lookup(domain string) []Record {
	records := s.Get(domain)
	if len(records) > 0 {
		return records
	}
	if host := hostOnly(domain); host != normalizeDomain(domain) {
		return s.Get(host)
	}
	return records
}

// Get 返回 domain 下记录的副本；从未导入过的 domain 返回空切片。
func (s *Store) Get(domain string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.domains[normalizeDomain(domain)]
	out := make([]Record, len(records))
	copy(out, records)
	return out
}

// Clear 删除 domain 下的记录；domain 为空时清空全部。
func (s *Store) Clear(domain string) error {
	domain = normalizeDomain(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.domains
	next := make(map[string][]Record, len(prev))
	if domain != "" {
		for d, records := range prev {
			if d != domain {
				next[d] = records
			}
		}
	}
	s.domains = next
	if err := s.flushLocked(); err != nil {
		s.domains = prev
		return err
	}
	return nil
}

// Domains 返回已保存的 domain 列表（已排序）。
func (s *Store) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.domains))
	for d := range s.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// flushLocked 原子写盘：同目录临时文件 → fsync → rename。调用方需持有写锁。
func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(s.domains, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookie store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	tmp, err := os.CreateTemp(dir, ".cookies-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// DomainFromURL 返回后端地址对应的 cookie domain：小写的 host[:port]。
// 同一台机器上不同端口的后端各自使用一组 cookie。
func DomainFromURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return strings.ToLower(u.Host), nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// hostOnly 去掉 domain 中的端口。
func hostOnly(domain string) string {
	domain = normalizeDomain(domain)
	if host, _, err := net.SplitHostPort(domain); err == nil {
		return host
	}
	return domain
}

// normalizeDocument 把磁盘文档的 key 规范成小写；大小写不同的同一 domain 按 key 顺序合并去重。
func normalizeDocument(decoded map[string][]Record) map[string][]Record {
	keys := make([]string, 0, len(decoded))
	for d := range decoded {
		keys = append(keys, d)
	}
	sort.Strings(keys)

	domains := make(map[string][]Record, len(decoded))
	for _, d := range keys {
		key := normalizeDomain(d)
		if key == "" {
			continue
		}
		records := decoded[d]
		if existing, ok := domains[key]; ok {
			merged := append(append([]Record{}, existing...), records...)
			domains[key] = dedupe(key, merged)
			continue
		}
		if records == nil {
			records = []Record{}
		}
		domains[key] = records
	}
	return domains
}
