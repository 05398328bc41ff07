package catalog

import "time"

// App is one row of the apps table.
type App struct {
	PackageName string    `json:"package_name"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	IconPath    *string   `json:"icon_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Version is one row of the app_versions table.
type Version struct {
	ID          int64     `json:"id"`
	PackageName string    `json:"package_name"`
	VersionCode int64     `json:"version_code"`
	VersionName string    `json:"version_name"`
	APKPath     string    `json:"apk_path"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	MinSDK      int       `json:"min_sdk"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// LatestVersion is the newest version of an app as shown in listings.
type LatestVersion struct {
	VersionCode int64  `json:"version_code"`
	VersionName string `json:"version_name"`
	Size        int64  `json:"size"`
}

// AppSummary is an app together with its newest version.
type AppSummary struct {
	App
	Latest *LatestVersion `json:"latest_version,omitempty"`
}

// UploadRecord is everything the catalog stores for one accepted upload.
type UploadRecord struct {
	PackageName string
	// AppName is the extracted label, used when the app is new and no override is given.
	AppName             string
	OverrideName        *string
	OverrideDescription *string
	// IconPath is set only when an icon was stored for this upload.
	IconPath *string

	VersionCode int64
	VersionName string
	APKPath     string
	Size        int64
	SHA256      string
	MinSDK      int
}

// AppUpdate holds the editable app fields. Nil fields are left unchanged.
type AppUpdate struct {
	Name        *string
	Description *string
}

// DeleteVersionResult reports what DeleteVersion removed.
type DeleteVersionResult struct {
	APKPath string
	// AppDeleted is true when the removed version was the last one.
	AppDeleted bool
	IconPath   *string
}
