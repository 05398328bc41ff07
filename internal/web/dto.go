package web

import (
	"strconv"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/jinzhu/copier"

	"github.com/Laisky/lellostore/internal/catalog"
)

// LatestVersionInfo is the newest version shown in listings.
type LatestVersionInfo struct {
	VersionCode int64  `json:"version_code"`
	VersionName string `json:"version_name"`
	Size        int64  `json:"size"`
}

// AppListItem is one entry of GET /api/apps.
type AppListItem struct {
	PackageName   string             `json:"package_name"`
	Name          string             `json:"name"`
	Description   *string            `json:"description"`
	IconURL       string             `json:"icon_url"`
	LatestVersion *LatestVersionInfo `json:"latest_version"`
}

// AppsListResponse is the body of GET /api/apps.
type AppsListResponse struct {
	Apps []AppListItem `json:"apps"`
}

// AppVersionInfo is one version in an app detail.
type AppVersionInfo struct {
	VersionCode int64     `json:"version_code"`
	VersionName string    `json:"version_name"`
	APKURL      string    `json:"apk_url"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	MinSDK      int       `json:"min_sdk"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// AppDetailResponse is the body of GET /api/apps/{pkg}.
type AppDetailResponse struct {
	PackageName string           `json:"package_name"`
	Name        string           `json:"name"`
	Description *string          `json:"description"`
	IconURL     string           `json:"icon_url"`
	Versions    []AppVersionInfo `json:"versions"`
}

// UpdateAppRequest is the body of PUT /api/admin/apps/{pkg}.
type UpdateAppRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// DeleteVersionResponse is the body of DELETE /api/admin/apps/{pkg}/versions/{code}.
type DeleteVersionResponse struct {
	DeletedVersion int64 `json:"deletedVersion"`
	DeletedApp     bool  `json:"deletedApp"`
}

func iconURL(packageName string) string {
	return "/api/apps/" + packageName + "/icon"
}

func apkURL(packageName string, versionCode int64) string {
	return "/api/apps/" + packageName + "/versions/" + strconv.FormatInt(versionCode, 10) + "/apk"
}

func toListItem(s catalog.AppSummary) (AppListItem, error) {
	item := AppListItem{}
	if err := copier.Copy(&item, &s.App); err != nil {
		return item, errors.Wrap(err, "copy app")
	}
	item.IconURL = iconURL(s.PackageName)

	if s.Latest != nil {
		item.LatestVersion = new(LatestVersionInfo)
		if err := copier.Copy(item.LatestVersion, s.Latest); err != nil {
			return item, errors.Wrap(err, "copy latest version")
		}
	}
	return item, nil
}

func toDetail(app *catalog.App, versions []catalog.Version) (*AppDetailResponse, error) {
	resp := &AppDetailResponse{Versions: make([]AppVersionInfo, 0, len(versions))}
	if err := copier.Copy(resp, app); err != nil {
		return nil, errors.Wrap(err, "copy app")
	}
	resp.IconURL = iconURL(app.PackageName)

	for i := range versions {
		info := AppVersionInfo{}
		if err := copier.Copy(&info, &versions[i]); err != nil {
			return nil, errors.Wrap(err, "copy version")
		}
		info.APKURL = apkURL(versions[i].PackageName, versions[i].VersionCode)
		resp.Versions = append(resp.Versions, info)
	}
	return resp, nil
}
