// Package gateway fronts a cluster: writes go to the node the master
// assigns, reads to the node serving the referenced volume.
package gateway

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rxanders35/fdfs/pkg/volume_server"
)

type GatewayServer struct {
	addr           string
	engine         *gin.Engine
	srv            *http.Server
	gatewayHandler *GatewayHandler
}

func NewGatewayServer(gatewayAddr string, h *GatewayHandler) (*GatewayServer, error) {
	engine := gin.New()
	engine.Use(volume_server.RequestLogger(nil), gin.Recovery())

	g := &GatewayServer{
		addr:           gatewayAddr,
		engine:         engine,
		gatewayHandler: h,
	}
	g.registerRoutes()

	return g, nil
}

func (g *GatewayServer) registerRoutes() {
	v1 := g.engine.Group("/v1")

	gateway := v1.Group("/gateway")

	// Assign a node from the master, then forward the body to it.
	gateway.POST("/write", g.gatewayHandler.Write)
	// Parse the reference, locate its volume, then proxy the node's response.
	gateway.GET("/read/*reference", g.gatewayHandler.Read)
}

func (g *GatewayServer) Handler() http.Handler {
	return g.engine
}

func (g *GatewayServer) Run() error {
	g.srv = &http.Server{
		Addr:    g.addr,
		Handler: g.engine,
	}
	return g.srv.ListenAndServe()
}

func (g *GatewayServer) Shutdown(ctx context.Context) error {
	if g.srv == nil {
		return nil
	}
	return g.srv.Shutdown(ctx)
}
