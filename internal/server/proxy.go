package server

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const kernelRoutePrefix = "/api/kernels"

// newKernelProxy forwards /api/kernels/* to the kernel server with the
// route prefix stripped, leaving the payload opaque.
func newKernelProxy(target *url.URL, logger *zap.Logger) http.Handler {
	proxy := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.URL.Path = strippedKernelPath(r.In.URL.Path)
			r.Out.URL.RawPath = ""
			r.Out.Host = target.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("kernel proxy request failed",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return proxy
}

func strippedKernelPath(path string) string {
	stripped := strings.TrimPrefix(path, kernelRoutePrefix)
	if stripped == "" {
		return "/"
	}
	return stripped
}
