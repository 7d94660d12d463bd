package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/rxanders35/fdfs/pkg/tracker"
	"github.com/rxanders35/fdfs/pkg/volume_server/fileref"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Locator is the part of the master the gateway needs. *tracker.Client
// implements it.
type Locator interface {
	Assign(ctx context.Context, group string) (tracker.Assignment, error)
	Locate(ctx context.Context, group, volume string) (tracker.Assignment, error)
}

type GatewayHandler struct {
	master       Locator
	client       *http.Client
	defaultGroup string
}

func NewGatewayHandler(m Locator, defaultGroup string, client *http.Client) (*GatewayHandler, error) {
	if m == nil {
		return nil, errors.New("gateway needs a master client")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GatewayHandler{
		master:       m,
		client:       client,
		defaultGroup: defaultGroup,
	}, nil
}

func (g *GatewayHandler) Write(c *gin.Context) {
	group := c.DefaultQuery("group", g.defaultGroup)
	if group == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing group"})
		return
	}

	assigned, err := g.master.Assign(c.Request.Context(), group)
	if err != nil {
		log.Warn().Err(err).Str("group", group).Msg("failed to get a node from the master")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to get a node from the master"})
		return
	}

	target := volumeURL(assigned.HTTPAddr, "/v1/volume/write")
	if ext := c.Query("ext"); ext != "" {
		target += "?ext=" + url.QueryEscape(ext)
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, target, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build post req for sending data to volume"})
		return
	}
	req.ContentLength = c.Request.ContentLength
	req.Header.Set("Content-Type", c.GetHeader("Content-Type"))

	g.forward(c, req, assigned)
}

func (g *GatewayHandler) Read(c *gin.Context) {
	reference := strings.TrimPrefix(c.Param("reference"), "/")
	ref, err := fileref.DecodeReference(reference)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	loc, err := g.master.Locate(c.Request.Context(), ref.Group, ref.Volume)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Warn().Err(err).Str("reference", reference).Msg("failed to locate volume")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to locate volume"})
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet,
		volumeURL(loc.HTTPAddr, readPath(ref)), nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build read req"})
		return
	}

	g.forward(c, req, loc)
}

// forward sends req to a storage node and relays the status, content type
// and body back to the caller.
func (g *GatewayHandler) forward(c *gin.Context, req *http.Request, node tracker.Assignment) {
	resp, err := g.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("node", node.NodeID).Str("addr", node.HTTPAddr).Msg("storage node request failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "storage node unreachable"})
		return
	}
	defer resp.Body.Close()

	c.Header("X-Fdfs-Node", node.NodeID)
	c.DataFromReader(resp.StatusCode, resp.ContentLength, resp.Header.Get("Content-Type"), resp.Body, nil)
}

// readPath is the node read route for ref with every segment path-escaped.
func readPath(ref fileref.Reference) string {
	segments := strings.Split(ref.String(), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return "/v1/volume/read/" + strings.Join(segments, "/")
}

func volumeURL(addr, path string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/") + path
	}
	return fmt.Sprintf("http://%s%s", addr, path)
}

var _ Locator = (*tracker.Client)(nil)
