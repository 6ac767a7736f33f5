package commands

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"datacat/pkg/model"
	"datacat/pkg/types"

	"github.com/spf13/cobra"
)

var errNoApp = errors.New("app not initialized")

// parseMetadata 解析 key=value 列表。值依次尝试数字、RFC3339 时间，否则当文本。
// unset 里的名字编码为零值 (删除)。
func parseMetadata(pairs, unset []string) (model.Metadata, error) {
	if len(pairs) == 0 && len(unset) == 0 {
		return nil, nil
	}
	md := make(model.Metadata, len(pairs)+len(unset))
	for _, kv := range pairs {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("metadata %q is not key=value", kv)
		}
		md[name] = parseValue(raw)
	}
	for _, name := range unset {
		md[name] = model.Value{}
	}
	return md, nil
}

func parseValue(raw string) model.Value {
	if v, err := model.ParseNumber(raw); err == nil {
		return v
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return model.Timestamp(t)
	}
	return model.Text(raw)
}

// parseFields 解析 --set field=value，数字按整数传给 patch
func parseFields(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("field %q is not key=value", kv)
		}
		if v, err := model.ParseNumber(raw); err == nil && v.Kind == model.KindInteger {
			out[name] = v.Int
			continue
		}
		out[name] = raw
	}
	return out, nil
}

// viewFlags 所有按视图读数据集的命令共用
type viewFlags struct {
	version  string
	site     string
	tolerant bool
	bare     bool
}

func (f *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.version, "version", "current", "dataset version: current, new or a number")
	cmd.Flags().StringVar(&f.site, "site", "", "location site: a name, master, all, zero")
	cmd.Flags().BoolVar(&f.tolerant, "tolerant", false, "keep datasets that have no location at the requested site")
	cmd.Flags().BoolVar(&f.bare, "bare", false, "do not resolve versions (names only)")
}

func (f *viewFlags) view() (model.DatasetView, error) {
	if f.bare {
		return model.EmptyView(), nil
	}
	vid, err := model.ParseVersion(f.version)
	if err != nil {
		return model.DatasetView{}, err
	}
	v := model.DatasetView{VersionID: vid, Site: model.ParseSite(f.site), IncludeMetadata: true}
	v.Site.Tolerant = f.tolerant
	return v, nil
}

// -----------------------------------------------------------------------------
// 输出
// -----------------------------------------------------------------------------

func printNode(w io.Writer, n model.Node) {
	info := n.Info()
	switch node := n.(type) {
	case *model.Folder:
		fmt.Fprintf(w, "📁 %s/\n", info.Path)
	case *model.Group:
		fmt.Fprintf(w, "🗃️  %s/\n", info.Path)
	case *model.Dataset:
		if node.Version == nil {
			fmt.Fprintf(w, "📄 %s\n", info.Path)
			return
		}
		sites := make([]string, 0, len(node.Version.Locations))
		for _, l := range node.Version.Locations {
			sites = append(sites, l.Site)
		}
		fmt.Fprintf(w, "📄 %s  v%d  [%s]\n", info.Path, node.Version.VersionID, strings.Join(sites, ","))
	default:
		fmt.Fprintf(w, "%s %s\n", n.Type(), info.Path)
	}
}

func printMetadata(w io.Writer, md model.Metadata, names ...string) {
	if len(names) == 0 {
		for name := range md {
			names = append(names, name)
		}
		slices.Sort(names)
	}
	for _, name := range names {
		if v, ok := md[name]; ok {
			fmt.Fprintf(w, "    %s = %s\n", name, v)
		}
	}
}

func printLocation(w io.Writer, l model.DatasetLocation) {
	master := ""
	if l.Master {
		master = " (master)"
	}
	fmt.Fprintf(w, "    @%s%s %s size=%d", l.Site, master, l.Resource, l.Size)
	if l.Checksum != nil {
		fmt.Fprintf(w, " checksum=%s", l.ChecksumHex())
	}
	if l.ScanStatus != "" {
		fmt.Fprintf(w, " scan=%s", l.ScanStatus)
	}
	fmt.Fprintln(w)
}

// versionArg 命令行里的版本号
func versionArg(s string) (int64, error) {
	if s == "" {
		return types.VersionCurrent, nil
	}
	return model.ParseVersion(s)
}
