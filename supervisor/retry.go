package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/LubyRuffy/freeloader/cookiestore"
	"github.com/LubyRuffy/freeloader/importer"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 2 * time.Second
)

var (
	// ErrImportFailed 表示自动导入 cookie 在所有尝试后仍然失败。
	ErrImportFailed = errors.New("cookie import failed")
	// ErrStartFailed 表示监听端口在所有尝试后仍然失败。
	ErrStartFailed = errors.New("server start failed")
)

// ManualEntryHint 是自动导入失败后给用户的提示。
const ManualEntryHint = "fall back to manual cookie entry: freeloader cookies set --domain <domain> name=value ..."

// Policy 是固定间隔的重试策略。
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultPolicy 返回 3 次、间隔 2s 的策略。
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// run 执行 fn 直到成功、次数用尽或 ctx 结束，返回最后一次的错误。
func (p Policy) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		log.Warnf("%s: attempt %d/%d failed: %v", op, attempt, p.MaxAttempts, lastErr)
		if attempt == p.MaxAttempts {
			break
		}
		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// DomainImporter 保存导入结果，*cookiestore.Store 满足该接口。
type DomainImporter interface {
	ImportDomain(domain string, records []cookiestore.Record) error
}

// ImportWithRetry 从 src 导入 browser/domain 的 cookie，失败或结果为空时按策略重试，
// 成功后整体替换 store 中该 domain 的记录。
//
// 重试用尽返回 ErrImportFailed；写盘失败不重试，直接返回 store 的错误。
func (p Policy) ImportWithRetry(ctx context.Context, src importer.Source, store DomainImporter, browser, domain string) ([]cookiestore.Record, error) {
	if src == nil {
		return nil, fmt.Errorf("import source is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("cookie store is nil")
	}
	p = p.normalized()

	var records []cookiestore.Record
	err := p.run(ctx, "import cookies", func(ctx context.Context) error {
		got, err := src.Import(ctx, browser, domain)
		if err != nil {
			return err
		}
		if len(got) == 0 {
			return importer.ErrNoCookies
		}
		records = got
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w for %s after %d attempts: %v; %s", ErrImportFailed, domain, p.MaxAttempts, err, ManualEntryHint)
	}

	if err := store.ImportDomain(domain, records); err != nil {
		return nil, err
	}
	log.Infof("imported %d cookies for %s from %s", len(records), domain, browser)
	return records, nil
}

// ListenWithRetry 监听 addr；端口被占用（比如上一个实例还没退出）时按策略重试。
func (p Policy) ListenWithRetry(ctx context.Context, addr string) (net.Listener, error) {
	p = p.normalized()

	var ln net.Listener
	var lc net.ListenConfig
	err := p.run(ctx, "listen "+addr, func(ctx context.Context) error {
		l, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		ln = l
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s after %d attempts: %w", ErrStartFailed, addr, p.MaxAttempts, err)
	}
	return ln, nil
}
