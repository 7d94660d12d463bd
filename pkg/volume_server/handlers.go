package volume_server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/rxanders35/fdfs/pkg/volume_server/binlog"
	"github.com/rxanders35/fdfs/pkg/volume_server/fileref"
	"github.com/rxanders35/fdfs/pkg/volume_server/wrr"
)

const (
	HeaderSize     = "X-Fdfs-Size"
	HeaderCRC32    = "X-Fdfs-Crc32"
	HeaderOrigin   = "X-Fdfs-Origin"
	HeaderCreated  = "X-Fdfs-Created"
	multipartField = "file"
)

type VolumeHandler struct {
	storage StorageEngine
	journal *binlog.Journal
	index   IndexLister
	ledger  LedgerLister
	metrics RequestRecorder
}

func NewVolumeHandler(s StorageEngine) *VolumeHandler {
	return &VolumeHandler{
		storage: s,
	}
}

func (v *VolumeHandler) Write(c *gin.Context) {
	data, ext, err := readUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid req body"})
		return
	}

	ref, err := v.storage.Write(c.Request.Context(), data, ext)
	if err != nil {
		v.fail(c, "write", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reference": ref, "size": len(data)})
}

func (v *VolumeHandler) Read(c *gin.Context) {
	v.serve(c, referenceParam(c))
}

// ReadByName serves GET /file?name=<reference>.
func (v *VolumeHandler) ReadByName(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}
	v.serve(c, name)
}

func (v *VolumeHandler) serve(c *gin.Context, reference string) {
	data, err := v.storage.Read(c.Request.Context(), reference)
	if err != nil {
		v.fail(c, "read", err)
		return
	}
	if v.metrics != nil {
		v.metrics.RecordRead(len(data))
	}
	ext := ""
	if ref, err := fileref.DecodeReference(reference); err == nil {
		ext = ref.Ext
	}
	c.Data(http.StatusOK, contentType(ext), data)
}

func (v *VolumeHandler) Delete(c *gin.Context) {
	if err := v.storage.Delete(c.Request.Context(), referenceParam(c)); err != nil {
		v.fail(c, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (v *VolumeHandler) Stat(c *gin.Context) {
	st, err := v.storage.Stat(referenceParam(c))
	if err != nil {
		c.Status(statusFor(err))
		return
	}
	c.Header(HeaderSize, strconv.FormatInt(st.Size, 10))
	c.Header(HeaderCRC32, strconv.FormatUint(uint64(st.FileID.CRC32), 16))
	c.Header(HeaderOrigin, st.FileID.OriginHost)
	c.Header(HeaderCreated, strconv.FormatInt(st.FileID.CreatedAt, 10))
	c.Header("Content-Type", contentType(st.Reference.Ext))
	c.Header("Last-Modified", st.ModTime.UTC().Format(http.TimeFormat))
	c.Status(http.StatusOK)
}

type volumeStats struct {
	VolumeStat
	UsedHuman     string `json:"used"`
	CapacityHuman string `json:"capacity,omitempty"`
}

func (v *VolumeHandler) Stats(c *gin.Context) {
	vols := v.storage.Volumes()
	out := make([]volumeStats, 0, len(vols))
	for _, s := range vols {
		vs := volumeStats{VolumeStat: s, UsedHuman: humanize.IBytes(s.Used)}
		if s.Capacity > 0 {
			vs.CapacityHuman = humanize.IBytes(s.Capacity)
		}
		out = append(out, vs)
	}
	c.JSON(http.StatusOK, gin.H{"group": v.storage.Group(), "volumes": out})
}

// Journal serves GET /journal?ts=N, the last record at or before N.
func (v *VolumeHandler) Journal(c *gin.Context) {
	if v.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	ts, err := strconv.ParseInt(c.Query("ts"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ts"})
		return
	}

	rec, ok, err := v.journal.Find(ts)
	if err != nil {
		v.fail(c, "journal", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no record at or before ts"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (v *VolumeHandler) Ledger(c *gin.Context) {
	if v.ledger == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ledger disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	evs, err := v.ledger.List(c.Request.Context(), c.Query("volume"), limit)
	if err != nil {
		v.fail(c, "ledger", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (v *VolumeHandler) Index(c *gin.Context) {
	if v.index == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "index disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	evs, err := v.index.List(c.Query("prefix"), limit)
	if err != nil {
		v.fail(c, "index", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": evs})
}

func (v *VolumeHandler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, fileref.ErrMalformedReference),
		errors.Is(err, fileref.ErrMalformedID),
		errors.Is(err, fileref.ErrInvalidField),
		errors.Is(err, ErrUnknownVolume),
		errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fileref.ErrInvalidExtension):
		return http.StatusBadRequest
	case errors.Is(err, ErrReadOnlyVolume):
		return http.StatusForbidden
	case errors.Is(err, ErrNoWritableVolume),
		errors.Is(err, wrr.ErrNoCandidates),
		errors.Is(err, wrr.ErrNoEligible):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// readUpload takes the payload from a multipart "file" field or the raw
// body. The ext query parameter wins over the uploaded file name.
func readUpload(c *gin.Context) ([]byte, string, error) {
	ext := c.Query("ext")

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile(multipartField)
		if err != nil {
			return nil, "", err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return nil, "", err
		}
		if ext == "" {
			ext = strings.TrimPrefix(path.Ext(fh.Filename), ".")
		}
		return data, ext, nil
	}

	data, err := io.ReadAll(c.Request.Body)
	return data, ext, err
}

// referenceParam strips the leading slash gin leaves on catch-all params.
func referenceParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("reference"), "/")
}

func contentType(ext string) string {
	if ext != "" {
		if t := mime.TypeByExtension("." + ext); t != "" {
			return t
		}
	}
	return "application/octet-stream"
}
