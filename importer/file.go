package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/LubyRuffy/freeloader/cookiestore"
)

// fileSource 读取 JSON 导出文件。browser 参数只做校验。
type fileSource struct {
	path string
}

func (s *fileSource) Import(ctx context.Context, browser, domain string) ([]cookiestore.Record, error) {
	if _, err := NormalizeBrowser(browser); err != nil {
		return nil, err
	}
	path, err := cookiestore.ExpandPath(s.path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie export: %w", err)
	}
	records, err := decodeRecords(data, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cookie export %s: %w", path, err)
	}
	return records, nil
}

// decodeRecords 解析 cookie JSON：可以是记录数组，也可以是 {domain: [记录...]} 文档。
// 文档形式时取与 domain 匹配（相同或为其子域）的所有条目。
func decodeRecords(data []byte, domain string) ([]cookiestore.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var records []cookiestore.Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	case '{':
		var doc map[string][]cookiestore.Record
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, err
		}
		var out []cookiestore.Record
		for d, records := range doc {
			if matchDomain(d, domain) {
				out = append(out, records...)
			}
		}
		return out, nil
	default:
		return nil, errors.New("expected a JSON array or object")
	}
}

func matchDomain(cookieDomain, domain string) bool {
	c := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cookieDomain), "."))
	d := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "."))
	if c == "" || d == "" {
		return false
	}
	return c == d || strings.HasSuffix(c, "."+d)
}
