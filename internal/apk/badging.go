package apk

import (
	"bufio"
	"strconv"
	"strings"
)

// DefaultMinSDK is assumed when the badging output carries no sdkVersion line.
const DefaultMinSDK = 21

// Badging is the parsed output of `aapt2 dump badging`.
type Badging struct {
	PackageName string
	VersionCode int64
	// VersionName is empty when the manifest omits it.
	VersionName string
	MinSDK      int
	// AppName is empty when there is no application-label line.
	AppName string
	// IconPath is the highest density icon entry inside the zip, if any.
	IconPath string
}

// ParseBadging extracts package metadata from badging text.
//
//	package: name='X' versionCode='N' versionName='V' ...
//	sdkVersion:'N'
//	application-label:'X'
//	application-icon-<density>:'path'
func ParseBadging(output string) (*Badging, error) {
	b := &Badging{MinSDK: DefaultMinSDK}
	bestDensity := -1
	var (
		rawCode    string
		sawPackage bool
	)

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case strings.HasPrefix(line, "package:"):
			sawPackage = true
			b.PackageName, _ = attrValue(line, "name")
			rawCode, _ = attrValue(line, "versionCode")
			b.VersionName, _ = attrValue(line, "versionName")
		case strings.HasPrefix(line, "sdkVersion:"):
			if v, ok := colonValue(line); ok {
				if sdk, err := strconv.Atoi(v); err == nil {
					b.MinSDK = sdk
				}
			}
		case strings.HasPrefix(line, "application-label:"):
			if v, ok := colonValue(line); ok {
				b.AppName = v
			}
		case strings.HasPrefix(line, "application-icon-"):
			density, path, ok := iconLine(line)
			if !ok || !safeZipEntry(path) {
				continue
			}
			if density > bestDensity {
				bestDensity = density
				b.IconPath = path
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, NewError(ErrCodeParse, "read badging output: "+err.Error())
	}

	if !sawPackage || b.PackageName == "" {
		return nil, NewError(ErrCodeParse, "missing package name")
	}
	if rawCode == "" {
		return nil, NewError(ErrCodeParse, "missing version code")
	}
	code, err := strconv.ParseInt(rawCode, 10, 64)
	if err != nil || code < 0 {
		return nil, NewError(ErrCodeParse, "invalid version code "+strconv.Quote(rawCode))
	}
	b.VersionCode = code

	return b, nil
}

// FallbackAppName returns the last dot-separated segment of a package name.
func FallbackAppName(packageName string) string {
	if i := strings.LastIndexByte(packageName, '.'); i >= 0 && i < len(packageName)-1 {
		return packageName[i+1:]
	}
	return packageName
}

// attrValue finds ` key='value'` (or double quotes) in line.
// The key must be preceded by a space or colon so `name` never matches `versionName`.
func attrValue(line, key string) (string, bool) {
	needle := key + "="
	for from := 0; from < len(line); {
		idx := strings.Index(line[from:], needle)
		if idx < 0 {
			return "", false
		}
		idx += from
		if idx == 0 || line[idx-1] == ' ' || line[idx-1] == ':' {
			return quoted(line[idx+len(needle):])
		}
		from = idx + len(needle)
	}
	return "", false
}

// colonValue returns the quoted value after the first colon.
func colonValue(line string) (string, bool) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return "", false
	}
	return quoted(line[i+1:])
}

// quoted reads a value wrapped in matching single or double quotes.
func quoted(s string) (string, bool) {
	if s == "" || (s[0] != '\'' && s[0] != '"') {
		return "", false
	}
	end := strings.IndexByte(s[1:], s[0])
	if end < 0 {
		return "", false
	}
	return s[1 : end+1], true
}

// iconLine parses `application-icon-640:'res/mipmap/ic.png'`.
func iconLine(line string) (density int, path string, ok bool) {
	const prefix = "application-icon-"
	colon := strings.IndexByte(line, ':')
	if colon <= len(prefix) {
		return 0, "", false
	}
	density, err := strconv.Atoi(line[len(prefix):colon])
	if err != nil {
		return 0, "", false
	}
	path, ok = quoted(line[colon+1:])
	return density, path, ok && path != ""
}

func safeZipEntry(path string) bool {
	return !strings.Contains(path, "..") && !strings.HasPrefix(path, "/")
}
