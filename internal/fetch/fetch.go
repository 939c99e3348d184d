package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"eduquest/internal/apperr"
)

const proxyUserAgent = "Mozilla/5.0 (compatible; EduQuest-Proxy/1.0)"

// Fetcher 二进制下载代理。生成服务返回的图片URL带有CORS限制，
// 打包时通过服务端统一拉取。
type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Download 拉取远程二进制内容，返回数据和Content-Type
func (f *Fetcher) Download(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("%w: URL不能为空", apperr.ErrInputValidation)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", apperr.ErrUpstreamService, err)
	}
	req.Header.Set("User-Agent", proxyUserAgent)

	res, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", apperr.ErrUpstreamService, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w: http %d", apperr.ErrUpstreamService, res.StatusCode)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", apperr.ErrUpstreamService, err)
	}

	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return data, contentType, nil
}
