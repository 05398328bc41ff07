package redis

const (
	keyPrefix        = "lellostore/"
	keyPrefixCatalog = keyPrefix + "catalog/"

	// KeyCatalogApps caches the catalog summary list
	KeyCatalogApps = keyPrefixCatalog + "apps"
	// KeyCatalogGeneration is bumped on every catalog mutation
	KeyCatalogGeneration = keyPrefixCatalog + "generation"
)
