package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/LubyRuffy/freeloader/cookiestore"
	log "github.com/sirupsen/logrus"
)

// commandSource 调用外部提取工具（读取浏览器的 cookie 数据库），解析其 JSON 输出。
type commandSource struct {
	command string
}

func (s *commandSource) Import(ctx context.Context, browser, domain string) ([]cookiestore.Record, error) {
	b, err := NormalizeBrowser(browser)
	if err != nil {
		return nil, err
	}
	argv := strings.Fields(s.command)
	if len(argv) == 0 {
		return nil, errors.New("import command is empty")
	}
	argv = append(argv, "--browser", b, "--domain", domain)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Debugf("running cookie extractor: %s", strings.Join(argv, " "))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("cookie extractor failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("cookie extractor failed: %w", err)
	}
	records, err := decodeRecords(stdout.Bytes(), domain)
	if err != nil {
		return nil, fmt.Errorf("parse cookie extractor output: %w", err)
	}
	return records, nil
}
