package cookiestore

import (
	"encoding/json"
	"strings"
	"time"
)

// Record 是一条 cookie 记录。ExpiresAt 为 unix 秒，0 表示 session cookie。
type Record struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Domain    string `json:"domain"`
	Path      string `json:"path"`
	ExpiresAt int64  `json:"expiresAt"`
	Secure    bool   `json:"secure"`
	HTTPOnly  bool   `json:"httpOnly"`
}

// UnmarshalJSON 兼容导出工具使用的 "expires" 字段名。
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		Expires *float64 `json:"expires"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Record(aux.plain)
	if r.ExpiresAt == 0 && aux.Expires != nil && *aux.Expires > 0 {
		r.ExpiresAt = int64(*aux.Expires)
	}
	return nil
}

// Expired 判断记录在 now 时刻是否已过期。session cookie 永不过期。
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt > 0 && r.ExpiresAt <= now.Unix()
}

// CookieHeader 生成 Cookie 请求头的值：name=value; name2=value2。
// 已过期或没有名字的记录会被跳过。
func CookieHeader(records []Record, now time.Time) string {
	parts := make([]string, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Name) == "" || r.Expired(now) {
			continue
		}
		parts = append(parts, r.Name+"="+r.Value)
	}
	return strings.Join(parts, "; ")
}

// dedupe 按 (domain, name) 去重：后出现的值覆盖前面的，但保留首次出现的位置。
func dedupe(domain string, records []Record) []Record {
	type key struct{ domain, name string }
	out := make([]Record, 0, len(records))
	index := make(map[key]int, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Name) == "" {
			continue
		}
		if r.Domain == "" {
			r.Domain = domain
		}
		k := key{domain: r.Domain, name: r.Name}
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
