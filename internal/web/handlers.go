package web

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/lellostore/internal/catalog"
	"github.com/Laisky/lellostore/internal/upload"
)

const (
	apkContentType  = "application/vnd.android.package-archive"
	iconContentType = "image/png"
	// multipartOverhead is the body allowance beyond the file itself.
	multipartOverhead = 1 << 20
	maxTextFieldSize  = 64 << 10
)

// Catalog is the catalog API the handlers use.
type Catalog interface {
	ListApps(ctx context.Context) ([]catalog.AppSummary, error)
	GetApp(ctx context.Context, packageName string) (*catalog.App, error)
	ListVersions(ctx context.Context, packageName string) ([]catalog.Version, error)
	GetVersion(ctx context.Context, packageName string, versionCode int64) (*catalog.Version, error)
	UpdateApp(ctx context.Context, packageName string, upd catalog.AppUpdate) (*catalog.App, error)
	DeleteApp(ctx context.Context, packageName string) (*catalog.App, error)
	DeleteVersion(ctx context.Context, packageName string, versionCode int64) (*catalog.DeleteVersionResult, error)
}

// Files is the storage API the handlers use.
type Files interface {
	Resolve(relPath string) (string, error)
	DeleteAPK(ctx context.Context, packageName string, versionCode int64) error
	DeleteIcon(ctx context.Context, packageName string) error
	DeletePackage(ctx context.Context, packageName string) error
}

// Uploader runs the upload pipeline.
type Uploader interface {
	ProcessUpload(ctx context.Context, fileName string, data []byte, overrideName, overrideDescription *string) (*upload.Result, error)
	MaxUploadSize() int64
}

var _ Uploader = new(upload.Service)

// Handlers serves the REST API.
type Handlers struct {
	catalog Catalog
	files   Files
	uploads Uploader
}

// NewHandlers creates the API handlers.
func NewHandlers(cat Catalog, files Files, uploads Uploader) (*Handlers, error) {
	if cat == nil || files == nil || uploads == nil {
		return nil, errors.New("catalog, files and uploads are required")
	}
	return &Handlers{catalog: cat, files: files, uploads: uploads}, nil
}

// Health answers liveness probes.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// ListApps handles GET /api/apps.
func (h *Handlers) ListApps(c *gin.Context) {
	apps, err := h.catalog.ListApps(c.Request.Context())
	if err != nil {
		respondInternal(c, errors.Wrap(err, "list apps"))
		return
	}

	resp := AppsListResponse{Apps: make([]AppListItem, 0, len(apps))}
	for _, app := range apps {
		item, err := toListItem(app)
		if err != nil {
			respondInternal(c, err)
			return
		}
		resp.Apps = append(resp.Apps, item)
	}
	c.JSON(http.StatusOK, resp)
}

// GetApp handles GET /api/apps/{pkg}.
func (h *Handlers) GetApp(c *gin.Context) {
	pkg := c.Param("package_name")
	detail, err := h.appDetail(c.Request.Context(), pkg)
	if err != nil {
		respondCatalogError(c, err, "app "+pkg+" not found")
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handlers) appDetail(ctx context.Context, pkg string) (*AppDetailResponse, error) {
	app, err := h.catalog.GetApp(ctx, pkg)
	if err != nil {
		return nil, err
	}
	versions, err := h.catalog.ListVersions(ctx, pkg)
	if err != nil {
		return nil, errors.Wrapf(err, "list versions of %s", pkg)
	}
	return toDetail(app, versions)
}

// GetIcon handles GET /api/apps/{pkg}/icon.
func (h *Handlers) GetIcon(c *gin.Context) {
	pkg := c.Param("package_name")
	app, err := h.catalog.GetApp(c.Request.Context(), pkg)
	if err != nil {
		respondCatalogError(c, err, "app "+pkg+" not found")
		return
	}
	if app.IconPath == nil {
		respondError(c, http.StatusNotFound, "icon not found")
		return
	}

	path, err := h.files.Resolve(*app.IconPath)
	if err != nil {
		respondInternal(c, err)
		return
	}
	serveFile(c, path, iconContentType, "")
}

// DownloadAPK handles GET /api/apps/{pkg}/versions/{code}/apk.
func (h *Handlers) DownloadAPK(c *gin.Context) {
	pkg := c.Param("package_name")
	code, ok := versionCodeParam(c)
	if !ok {
		return
	}

	version, err := h.catalog.GetVersion(c.Request.Context(), pkg, code)
	if err != nil {
		respondCatalogError(c, err, "version "+strconv.FormatInt(code, 10)+" of "+pkg+" not found")
		return
	}

	path, err := h.files.Resolve(version.APKPath)
	if err != nil {
		respondInternal(c, err)
		return
	}
	serveFile(c, path, apkContentType, pkg+"-"+version.VersionName+".apk")
}

// UploadApp handles POST /api/admin/apps.
func (h *Handlers) UploadApp(c *gin.Context) {
	maxSize := h.uploads.MaxUploadSize()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+multipartOverhead)

	form, err := readUploadForm(c.Request, maxSize)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge), errors.Is(err, errFileTooLarge):
			respondError(c, http.StatusRequestEntityTooLarge,
				"file exceeds maximum upload size of "+strconv.FormatInt(maxSize, 10)+" bytes")
		default:
			gmw.GetLogger(c).Debug("bad upload form", zap.Error(err))
			respondError(c, http.StatusBadRequest, err.Error())
		}
		return
	}

	result, err := h.uploads.ProcessUpload(c.Request.Context(),
		form.fileName, form.data, form.name, form.description)
	if err != nil {
		respondUploadError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

var errFileTooLarge = errors.New("file too large")

type uploadForm struct {
	fileName    string
	data        []byte
	name        *string
	description *string
}

// readUploadForm streams the multipart body, keeping at most maxSize bytes
// of the file part.
func readUploadForm(r *http.Request, maxSize int64) (*uploadForm, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, errors.New("expected a multipart/form-data body")
	}

	form := new(uploadForm)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read multipart body")
		}

		switch part.FormName() {
		case "file":
			if form.data, err = readLimited(part, maxSize); err != nil {
				return nil, err
			}
			form.fileName = part.FileName()
			if form.fileName == "" {
				form.fileName = "upload.apk"
			}
		case "name":
			if form.name, err = readTextField(part); err != nil {
				return nil, err
			}
		case "description":
			if form.description, err = readTextField(part); err != nil {
				return nil, err
			}
		}
		_ = part.Close()
	}

	if form.data == nil {
		return nil, errors.New("no file provided, expected a 'file' field in the multipart form")
	}
	return form, nil
}

func readLimited(part *multipart.Part, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(part, limit+1))
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}
	if n > limit {
		return nil, errFileTooLarge
	}
	return buf.Bytes(), nil
}

// readTextField returns nil for empty values.
func readTextField(part *multipart.Part) (*string, error) {
	raw, err := io.ReadAll(io.LimitReader(part, maxTextFieldSize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "read field %s", part.FormName())
	}
	if len(raw) > maxTextFieldSize {
		return nil, errors.Errorf("field %s is too long", part.FormName())
	}
	if len(raw) == 0 {
		return nil, nil
	}
	s := string(raw)
	return &s, nil
}

// UpdateApp handles PUT /api/admin/apps/{pkg}.
func (h *Handlers) UpdateApp(c *gin.Context) {
	pkg := c.Param("package_name")

	req := new(UpdateAppRequest)
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		respondError(c, http.StatusBadRequest, "name must not be empty")
		return
	}

	ctx := c.Request.Context()
	if _, err := h.catalog.UpdateApp(ctx, pkg, catalog.AppUpdate{
		Name:        req.Name,
		Description: req.Description,
	}); err != nil {
		respondCatalogError(c, err, "app "+pkg+" not found")
		return
	}

	detail, err := h.appDetail(ctx, pkg)
	if err != nil {
		respondCatalogError(c, err, "app "+pkg+" not found")
		return
	}
	gmw.GetLogger(c).Info("app updated", zap.String("package", pkg))
	c.JSON(http.StatusOK, detail)
}

// DeleteApp handles DELETE /api/admin/apps/{pkg}. Files go first so a failed
// catalog delete can simply be retried.
func (h *Handlers) DeleteApp(c *gin.Context) {
	pkg := c.Param("package_name")
	ctx := c.Request.Context()

	if _, err := h.catalog.GetApp(ctx, pkg); err != nil {
		respondCatalogError(c, err, "app "+pkg+" not found")
		return
	}
	if err := h.files.DeletePackage(ctx, pkg); err != nil {
		respondInternal(c, errors.Wrapf(err, "delete files of %s", pkg))
		return
	}
	if _, err := h.catalog.DeleteApp(ctx, pkg); err != nil {
		respondCatalogError(c, err, "app "+pkg+" not found")
		return
	}

	gmw.GetLogger(c).Info("app deleted", zap.String("package", pkg))
	c.Status(http.StatusNoContent)
}

// DeleteVersion handles DELETE /api/admin/apps/{pkg}/versions/{code}.
// Removing the last version removes the app and its icon too.
func (h *Handlers) DeleteVersion(c *gin.Context) {
	pkg := c.Param("package_name")
	code, ok := versionCodeParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	logger := gmw.GetLogger(c).With(zap.String("package", pkg), zap.Int64("version_code", code))

	notFound := "version " + strconv.FormatInt(code, 10) + " of " + pkg + " not found"
	if _, err := h.catalog.GetVersion(ctx, pkg, code); err != nil {
		respondCatalogError(c, err, notFound)
		return
	}
	if err := h.files.DeleteAPK(ctx, pkg, code); err != nil {
		respondInternal(c, errors.Wrapf(err, "delete apk %s/%d", pkg, code))
		return
	}

	res, err := h.catalog.DeleteVersion(ctx, pkg, code)
	if err != nil {
		respondCatalogError(c, err, notFound)
		return
	}
	if res.AppDeleted {
		h.deleteOrphanIcon(context.WithoutCancel(ctx), logger, pkg)
	}

	logger.Info("version deleted", zap.Bool("app_deleted", res.AppDeleted))
	c.JSON(http.StatusOK, DeleteVersionResponse{
		DeletedVersion: code,
		DeletedApp:     res.AppDeleted,
	})
}

// deleteOrphanIcon removes the icon of a cascaded app unless an upload has
// re-created the app since, in which case the icon file is its own.
func (h *Handlers) deleteOrphanIcon(ctx context.Context, logger logSDK.Logger, pkg string) {
	_, err := h.catalog.GetApp(ctx, pkg)
	switch {
	case err == nil:
		logger.Info("app re-created after cascade, keep icon")
		return
	case !errors.Is(err, catalog.ErrNotFound):
		logger.Warn("check app before deleting icon", zap.Error(err))
		return
	}

	if err := h.files.DeleteIcon(ctx, pkg); err != nil {
		logger.Warn("delete icon of removed app", zap.Error(err))
	}
}

func versionCodeParam(c *gin.Context) (int64, bool) {
	code, err := strconv.ParseInt(c.Param("version_code"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "version code must be an integer")
		return 0, false
	}
	return code, true
}
