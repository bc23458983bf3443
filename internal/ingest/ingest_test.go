package ingest

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/prospector/internal/fetcher"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/store"
)

func newIngestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestHTTPFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
	})
}

func areaByName(areas []model.Area, name string) *model.Area {
	for i := range areas {
		if areas[i].Name == name {
			return &areas[i]
		}
	}
	return nil
}

func TestLoadFile_CSV(t *testing.T) {
	s := newIngestStore(t)
	path := writeFile(t, "places.csv", `NAME,STNAME,POPULATION
Springfield city,Illinois,"116,250"
Shelbyville town,Illinois,42370
,Illinois,999
Ogdenville village,Illinois,suppressed
`)

	res, err := LoadFile(context.Background(), s, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.RowsRead)
	assert.Equal(t, int64(3), res.Loaded)
	assert.Equal(t, int64(1), res.Skipped) // blank name

	areas, err := s.ListAreas(context.Background(), "US")
	require.NoError(t, err)
	require.Len(t, areas, 3)

	sp := areaByName(areas, "Springfield")
	require.NotNil(t, sp, "suffix should be stripped")
	require.NotNil(t, sp.Population)
	assert.Equal(t, int64(116250), *sp.Population)

	og := areaByName(areas, "Ogdenville")
	require.NotNil(t, og)
	assert.Nil(t, og.Population, "unparseable population stays unknown")
}

func TestLoadFile_TSV(t *testing.T) {
	s := newIngestStore(t)
	path := writeFile(t, "places.tsv", "NAME\tPOPULATION\nSpringfield\t116250\nShelbyville\t42370\n")

	res, err := LoadFile(context.Background(), s, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Loaded)

	areas, err := s.ListAreas(context.Background(), "US")
	require.NoError(t, err)
	assert.Len(t, areas, 2)
}

func TestLoadFile_CustomColumns(t *testing.T) {
	s := newIngestStore(t)
	path := writeFile(t, "places.csv", `place,iso,residents
Springfield,US,116250
Guelph,CA,143740
`)

	res, err := LoadFile(context.Background(), s, path, Options{
		NameCol:    "place",
		PopCol:     "residents",
		CountryCol: "iso",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Loaded)

	ca, err := s.ListAreas(context.Background(), "CA")
	require.NoError(t, err)
	require.Len(t, ca, 1)
	assert.Equal(t, "Guelph", ca[0].Name)
}

func TestLoadFile_FilterColumn(t *testing.T) {
	s := newIngestStore(t)
	// Census sub-est layout: only SUMLEV 162 rows are incorporated places.
	path := writeFile(t, "sub-est.csv", `SUMLEV,NAME,POPULATION
040,Illinois,12812508
162,Springfield city,116250
157,Springfield city (pt.),99999
162,Shelbyville city,42370
`)

	res, err := LoadFile(context.Background(), s, path, Options{
		FilterCol: "SUMLEV",
		FilterVal: "162",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Loaded)
	assert.Equal(t, int64(2), res.Skipped)

	areas, err := s.ListAreas(context.Background(), "US")
	require.NoError(t, err)
	assert.Len(t, areas, 2)
}

func TestLoadFile_KeepSuffix(t *testing.T) {
	s := newIngestStore(t)
	path := writeFile(t, "places.csv", "NAME,POPULATION\nSpringfield city,116250\n")

	_, err := LoadFile(context.Background(), s, path, Options{KeepSuffix: true})
	require.NoError(t, err)

	areas, err := s.ListAreas(context.Background(), "US")
	require.NoError(t, err)
	require.Len(t, areas, 1)
	assert.Equal(t, "Springfield city", areas[0].Name)
}

func TestLoadFile_XLSX(t *testing.T) {
	s := newIngestStore(t)

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Places")
	require.NoError(t, err)
	for _, rowData := range [][]string{
		{"2024 population estimates"},
		{"NAME", "POPULATION"},
		{"Springfield city", "116250"},
		{"Shelbyville town", "42370"},
	} {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "places.xlsx")
	require.NoError(t, f.Save(path))

	res, err := LoadFile(context.Background(), s, path, Options{SkipRows: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Loaded)

	areas, err := s.ListAreas(context.Background(), "US")
	require.NoError(t, err)
	require.Len(t, areas, 2)
	assert.NotNil(t, areaByName(areas, "Springfield"))
}

func TestLoadFile_MissingNameColumn(t *testing.T) {
	s := newIngestStore(t)
	path := writeFile(t, "places.csv", "CITY,POP\nSpringfield,1\n")

	_, err := LoadFile(context.Background(), s, path, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "NAME" not found`)
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	s := newIngestStore(t)
	path := writeFile(t, "places.parquet", "binary")

	_, err := LoadFile(context.Background(), s, path, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestFetch_ZippedCSVOverHTTP(t *testing.T) {
	payload := zipBytes(t, map[string]string{
		"places.csv": "NAME,POPULATION\nSpringfield city,116250\nShelbyville town,42370\n",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	s := newIngestStore(t)
	hf := newTestHTTPFetcher()

	res, err := Fetch(context.Background(), s, hf, srv.URL+"/places.zip", Options{}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Loaded)

	areas, err := s.ListAreas(context.Background(), "US")
	require.NoError(t, err)
	assert.Len(t, areas, 2)
}

func TestFetch_ArchiveMember(t *testing.T) {
	payload := zipBytes(t, map[string]string{
		"readme.txt": "layout notes",
		"places.csv": "NAME,POPULATION\nOgdenville village,8912\n",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	s := newIngestStore(t)
	hf := newTestHTTPFetcher()

	res, err := Fetch(context.Background(), s, hf, srv.URL+"/bundle.zip", Options{Member: "places.csv"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Loaded)

	areas, err := s.ListAreas(context.Background(), "US")
	require.NoError(t, err)
	require.Len(t, areas, 1)
	assert.Equal(t, "Ogdenville", areas[0].Name)
}

func TestFetch_PlainCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("NAME,POPULATION\nSpringfield,116250\n"))
	}))
	defer srv.Close()

	s := newIngestStore(t)
	hf := newTestHTTPFetcher()

	res, err := Fetch(context.Background(), s, hf, srv.URL+"/sub-est2024.csv", Options{}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Loaded)
}

func TestFetch_DownloadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := newIngestStore(t)
	hf := newTestHTTPFetcher()

	_, err := Fetch(context.Background(), s, hf, srv.URL+"/missing.csv", Options{}, t.TempDir())
	require.Error(t, err)
}
