package adapters

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"stock_ingest/internal/feature/symbollist/domain/entity"
	"stock_ingest/internal/feature/symbollist/usecase"
)

// ErrListNotFound はマーケットの銘柄リストファイルが存在しない場合に返されます。
var ErrListNotFound = errors.New("symbol list not found")

// symbolFile はディレクトリ配下の銘柄リストファイルを読み込むSymbolRepository実装です。
//
// ファイルは <dir>/<market>, <dir>/<market>.txt, <dir>/<market>.json の順に探します。
// テキスト形式は1行1銘柄で、空行と # から始まる行は無視します。
// JSON形式は文字列の配列、または {"code": ..., "name": ...} の配列です。
type symbolFile struct {
	dir string
}

var _ usecase.SymbolRepository = (*symbolFile)(nil)

// NewSymbolFileRepository は dir を読み込む symbolFile を生成します。
func NewSymbolFileRepository(dir string) *symbolFile {
	return &symbolFile{dir: dir}
}

// ListActive はファイル記載順に銘柄を返します。
func (r *symbolFile) ListActive(ctx context.Context, market string) ([]entity.Symbol, error) {
	path, err := r.locate(market)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var symbols []entity.Symbol
	if filepath.Ext(path) == ".json" {
		symbols, err = readJSONList(path)
	} else {
		symbols, err = readTextList(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	for i := range symbols {
		symbols[i].Market = market
		symbols[i].IsActive = true
		symbols[i].SortKey = i
	}
	return symbols, nil
}

// ListActiveCodes はファイル記載順に銘柄コードを返します。
func (r *symbolFile) ListActiveCodes(ctx context.Context, market string) ([]string, error) {
	symbols, err := r.ListActive(ctx, market)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(symbols))
	for _, s := range symbols {
		codes = append(codes, s.Code)
	}
	return codes, nil
}

func (r *symbolFile) locate(market string) (string, error) {
	// マーケットIDはファイル名として使うため、パス区切りを含むものは拒否する
	if market == "" || strings.ContainsAny(market, `/\`) || market == "." || market == ".." {
		return "", fmt.Errorf("invalid market %q", market)
	}
	for _, name := range []string{market, market + ".txt", market + ".json"} {
		path := filepath.Join(r.dir, name)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: market %s in %s", ErrListNotFound, market, r.dir)
}

func readTextList(path string) ([]entity.Symbol, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []entity.Symbol
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, entity.Symbol{Code: line})
	}
	return out, sc.Err()
}

type jsonSymbol struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func readJSONList(path string) ([]entity.Symbol, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var codes []string
	if err := json.Unmarshal(b, &codes); err == nil {
		out := make([]entity.Symbol, 0, len(codes))
		for _, c := range codes {
			out = append(out, entity.Symbol{Code: c})
		}
		return out, nil
	}

	var items []jsonSymbol
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, err
	}
	out := make([]entity.Symbol, 0, len(items))
	for _, it := range items {
		out = append(out, entity.Symbol{Code: it.Code, Name: it.Name})
	}
	return out, nil
}
