package webapp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"defir/internal/app"
)

// Run 启动 HTTP API：
// - /api/*：案件、证据、状态、复核、导出
// - /fir/*：兼容旧客户端的路径与 camelCase 响应
//
// ctx 结束时优雅关闭（最多等待 5 秒）。
func Run(ctx context.Context, rt *app.Runtime) error {
	s := New(rt)

	httpServer := &http.Server{
		Addr:              rt.Config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("webapp listening", "addr", "http://"+rt.Config.ListenAddr, "backend", rt.Config.Backend)
	err := httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
