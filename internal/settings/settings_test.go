package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettings_ReadDotenv(t *testing.T) {
	t.Run("success - .env files is read into env variables", func(t *testing.T) {
		// arrange
		testDotEnvFile := filepath.Join(t.TempDir(), ".env.test")
		lines := []string{
			`#COMMENTED=asdf`,
			`SIMPLE_CD_TEST=1234`,
			``,
			`SIMPLE_CD_TEST2="2345"`,
		}
		if err := os.WriteFile(testDotEnvFile, []byte(strings.Join(lines, "\n")), 0600); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			os.Unsetenv("SIMPLE_CD_TEST")
			os.Unsetenv("SIMPLE_CD_TEST2")
		})

		// act
		err := ReadDotenv(testDotEnvFile)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, "1234", os.Getenv("SIMPLE_CD_TEST"))
		assert.Equal(t, "2345", os.Getenv("SIMPLE_CD_TEST2"))
		_, ok := os.LookupEnv("COMMENTED")
		assert.False(t, ok)
	})
	t.Run("success - missing file is ignored", func(t *testing.T) {
		// act
		err := ReadDotenv(filepath.Join(t.TempDir(), "missing.env"))

		// assert
		assert.NoError(t, err)
	})
}

func TestSettings_NewSettings(t *testing.T) {
	t.Run("success - port gets a colon prefix", func(t *testing.T) {
		// arrange
		t.Setenv("SIMPLECD_PORT", "9090")
		t.Setenv("SIMPLECD_AGENT_HOST", "")

		// act
		s := NewSettings()

		// assert
		assert.Equal(t, ":9090", s.Port)
		assert.False(t, s.UseSSHAgent())
		assert.Equal(t, "bolt", s.CacheBackend)
	})
	t.Run("success - readonly connection string", func(t *testing.T) {
		// arrange
		s := &AppSettings{SQLiteDatabase: "file:test.sqlite"}

		// act
		dsn := s.SQLiteDbString(true)

		// assert
		assert.True(t, strings.HasPrefix(dsn, "file:test.sqlite?"))
		assert.Contains(t, dsn, "mode=ro")
	})
}
