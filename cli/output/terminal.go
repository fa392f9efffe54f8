package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/pkg/mirror"
)

func humanizeSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func renderTable(w io.Writer, data pterm.TableData) error {
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, table)
	return err
}

// PrintNodeTable lists a container's children, folders first as the store
// returned them.
func PrintNodeTable(w io.Writer, nodes []backend.RemoteNode) error {
	if len(nodes) == 0 {
		_, err := fmt.Fprintln(w, "(empty folder)")
		return err
	}
	data := pterm.TableData{{"Name", "Type", "Size", "ID"}}
	for _, n := range nodes {
		kind, size := "file", humanizeSize(uint64(max(n.Size, 0)))
		if n.IsContainer {
			kind, size = "folder", "-"
		}
		data = append(data, []string{n.Name, kind, size, n.ID})
	}
	return renderTable(w, data)
}

// PrintReport writes the closing summary of an upload or download.
func PrintReport(p *Printer, r *mirror.Report) {
	if r == nil {
		return
	}
	title := "Upload finished"
	if r.Direction == mirror.Download {
		title = "Download finished"
	}
	fields := map[string]any{
		"files":   r.Files,
		"bytes":   humanizeSize(uint64(max(r.Bytes, 0))),
		"folders": r.Containers,
	}
	if r.OK() {
		p.Success(title, fields)
		return
	}
	fields["failures"] = len(r.Failures)
	p.Warn(title, fields)
	for _, f := range r.Failures {
		p.Error(f.Path, map[string]any{"error": f.Err})
	}
}

func VisualizeCredentialList(w io.Writer, credList []backend.Credential) error {
	if len(credList) == 0 {
		_, err := fmt.Fprintln(w, "no credentials stored")
		return err
	}
	data := pterm.TableData{{"Name", "Type", "URL", "Detail", "UUID"}}
	for _, cred := range credList {
		var detail string
		switch c := cred.(type) {
		case *backend.ClientCredential:
			detail = "client_id=" + c.ClientID + " tenant=" + c.TenantID
			if len(c.Scopes) > 0 {
				detail += " scopes=" + strings.Join(c.Scopes, ",")
			}
		case *backend.TokenCredential:
			detail = "token=" + mask(c.Token)
		case *backend.S3Credential:
			detail = "access_key_id=" + c.AccessKeyID
		}
		data = append(data, []string{cred.GetName(), cred.GetType(), cred.GetUrl(), detail, cred.GetUUID().String()})
	}
	return renderTable(w, data)
}

func mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
