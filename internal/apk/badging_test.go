package apk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const fullBadging = `package: name='com.example.myapp' versionCode='42' versionName='2.1.0' platformBuildVersionName='14' compileSdkVersion='34'
sdkVersion:'26'
targetSdkVersion:'34'
application-label:'My Awesome App'
application-label-de:'Meine App'
application-icon-160:'res/mipmap-mdpi-v4/ic_launcher.png'
application-icon-640:'res/mipmap-xxxhdpi-v4/ic_launcher.png'
application-icon-480:'res/mipmap-xxhdpi-v4/ic_launcher.png'
application: label='My Awesome App' icon='res/mipmap-mdpi-v4/ic_launcher.png'
`

func TestParseBadgingFull(t *testing.T) {
	b, err := ParseBadging(fullBadging)
	require.NoError(t, err)

	require.Equal(t, "com.example.myapp", b.PackageName)
	require.EqualValues(t, 42, b.VersionCode)
	require.Equal(t, "2.1.0", b.VersionName)
	require.Equal(t, 26, b.MinSDK)
	require.Equal(t, "My Awesome App", b.AppName)
	require.Equal(t, "res/mipmap-xxxhdpi-v4/ic_launcher.png", b.IconPath)
}

func TestParseBadgingMinimal(t *testing.T) {
	b, err := ParseBadging("package: name='com.test' versionCode='1'\n")
	require.NoError(t, err)

	require.Equal(t, "com.test", b.PackageName)
	require.EqualValues(t, 1, b.VersionCode)
	require.Empty(t, b.VersionName)
	require.Equal(t, DefaultMinSDK, b.MinSDK)
	require.Empty(t, b.AppName)
	require.Empty(t, b.IconPath)
}

func TestParseBadgingDoubleQuotes(t *testing.T) {
	out := "package: name=\"com.quoted.app\" versionCode=\"7\" versionName=\"it's 1.0\"\n" +
		"application-label:\"Quoted's App\"\n"

	b, err := ParseBadging(out)
	require.NoError(t, err)
	require.Equal(t, "com.quoted.app", b.PackageName)
	require.EqualValues(t, 7, b.VersionCode)
	require.Equal(t, "it's 1.0", b.VersionName)
	require.Equal(t, "Quoted's App", b.AppName)
}

func TestParseBadgingErrors(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{name: "empty", output: ""},
		{name: "no package line", output: "sdkVersion:'21'\n"},
		{name: "missing version code", output: "package: name='com.test' versionName='1.0'\n"},
		{name: "non numeric version code", output: "package: name='com.test' versionCode='abc'\n"},
		{name: "negative version code", output: "package: name='com.test' versionCode='-3'\n"},
		{name: "missing name", output: "package: versionCode='3'\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBadging(tt.output)
			require.Error(t, err)
			require.True(t, IsCode(err, ErrCodeParse), err.Error())
		})
	}
}

func TestParseBadgingIgnoresUnsafeIconPaths(t *testing.T) {
	out := `package: name='com.test' versionCode='1'
application-icon-640:'../../etc/passwd'
application-icon-480:'/abs/icon.png'
application-icon-320:'res/icon.png'
application-icon-abc:'res/bad-density.png'
`
	b, err := ParseBadging(out)
	require.NoError(t, err)
	require.Equal(t, "res/icon.png", b.IconPath)
}

func TestParseBadgingInvalidSDKKeepsDefault(t *testing.T) {
	b, err := ParseBadging("package: name='com.test' versionCode='1'\nsdkVersion:'Q'\n")
	require.NoError(t, err)
	require.Equal(t, DefaultMinSDK, b.MinSDK)
}

func TestFallbackAppName(t *testing.T) {
	require.Equal(t, "myapp", FallbackAppName("com.example.myapp"))
	require.Equal(t, "single", FallbackAppName("single"))
	require.Equal(t, "com.trailing.", FallbackAppName("com.trailing."))
}
