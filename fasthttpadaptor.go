package http2

import (
	"sync"

	"github.com/valyala/fasthttp"
)

// FastHTTPAdaptor exposes a fasthttp.RequestHandler as a Handler
// (spec.md §4 domain stack: embedders already holding a fasthttp
// application can reuse it over this HTTP/2 core without rewriting
// routes). It pools fasthttp.RequestCtx the way fasthttp itself does,
// since RequestCtx is not safe to keep across requests.
type FastHTTPAdaptor struct {
	Handler fasthttp.RequestHandler

	ctxPool sync.Pool
}

func NewFastHTTPAdaptor(h fasthttp.RequestHandler) *FastHTTPAdaptor {
	a := &FastHTTPAdaptor{Handler: h}
	a.ctxPool.New = func() interface{} { return &fasthttp.RequestCtx{} }
	return a
}

// Handle adapts one HTTP/2 Request/ResponseWriter exchange into a
// fasthttp.RequestCtx, runs the wrapped handler, then copies the result
// back out. It satisfies the Handler signature (response.go).
func (a *FastHTTPAdaptor) Handle(req *Request, w *ResponseWriter) {
	ctx := a.ctxPool.Get().(*fasthttp.RequestCtx)
	defer func() {
		ctx.Reset()
		a.ctxPool.Put(ctx)
	}()

	ctx.Request.Reset()
	ctx.Response.Reset()

	ctx.Request.Header.SetMethod(req.Method)
	ctx.Request.SetRequestURI(req.Path)
	ctx.Request.URI().SetScheme(req.Scheme)
	ctx.Request.Header.SetHost(req.Authority)

	for k, vs := range req.Header {
		for _, v := range vs {
			ctx.Request.Header.Add(k, v)
		}
	}

	if req.Body != nil {
		body, err := ReadAllBody(req.Body)
		if err == nil {
			ctx.Request.SetBody(body)
		}
	}

	a.Handler(ctx)

	ctx.Response.Header.VisitAll(func(k, v []byte) {
		w.Header().Add(string(k), string(v))
	})
	w.WriteHeader(ctx.Response.StatusCode())
	w.Write(ctx.Response.Body())
}
