package cli

import (
	"fmt"
	"io"
	"path"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dshills/manifold/internal/project/model"
)

type treeStyles struct {
	root    lipgloss.Style
	dir     lipgloss.Style
	file    lipgloss.Style
	kind    lipgloss.Style
	faint   lipgloss.Style
	problem lipgloss.Style
}

func newTreeStyles(w io.Writer) treeStyles {
	r := lipgloss.NewRenderer(w)
	return treeStyles{
		root:    r.NewStyle().Bold(true),
		dir:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		file:    r.NewStyle(),
		kind:    r.NewStyle().Foreground(lipgloss.Color("10")),
		faint:   r.NewStyle().Faint(true),
		problem: r.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// TreePrinter writes a file tree with the resources each file holds.
type TreePrinter struct {
	w         io.Writer
	styles    treeStyles
	files     model.FileMap
	resources model.ResourceMap
	filesOnly bool
}

func RunTree(cmd *cobra.Command, args []string) error {
	filesOnly, err := OptionalBoolFlag(cmd, "files-only")
	if err != nil {
		return err
	}
	application, err := openApplication(cmd, false)
	if err != nil {
		return err
	}
	defer application.Shutdown()
	engine := application.Engine()

	out := cmd.OutOrStdout()
	p := &TreePrinter{
		w:         out,
		styles:    newTreeStyles(out),
		files:     engine.Files(),
		resources: engine.Resources(),
		filesOnly: filesOnly,
	}
	return p.Print(engine.Root())
}

// Print writes the tree under the root entry.
func (p *TreePrinter) Print(rootLabel string) error {
	root := p.files[model.RootEntry]
	if root == nil {
		return fmt.Errorf("no root entry")
	}
	if _, err := fmt.Fprintln(p.w, p.styles.root.Render(rootLabel)); err != nil {
		return err
	}
	return p.children(root, "")
}

func (p *TreePrinter) children(entry *model.FileEntry, prefix string) error {
	type line struct {
		text  string
		entry *model.FileEntry
	}
	var lines []line
	for _, child := range entry.Children {
		if f := p.files[child]; f != nil {
			lines = append(lines, line{entry: f})
		}
	}
	if !p.filesOnly {
		for _, id := range entry.ResourceIDs {
			if r := p.resources[id]; r != nil {
				lines = append(lines, line{text: p.resourceLabel(r)})
			}
		}
	}

	for i, l := range lines {
		branch, indent := "├── ", "│   "
		if i == len(lines)-1 {
			branch, indent = "└── ", "    "
		}
		text := l.text
		if l.entry != nil {
			text = p.fileLabel(l.entry)
		}
		if _, err := fmt.Fprintln(p.w, prefix+branch+text); err != nil {
			return err
		}
		if l.entry != nil {
			if err := p.children(l.entry, prefix+indent); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *TreePrinter) fileLabel(f *model.FileEntry) string {
	name := path.Base(f.RelPath)
	if f.IsDir {
		return p.styles.dir.Render(name + "/")
	}
	label := p.styles.file.Render(name)
	if f.Helm != model.HelmNone {
		label += " " + p.styles.faint.Render("["+f.Helm.String()+"]")
	}
	if f.ParseError != "" {
		label += " " + p.styles.problem.Render("! "+f.ParseError)
	}
	return label
}

func (p *TreePrinter) resourceLabel(r *model.Resource) string {
	label := p.styles.kind.Render(r.Kind) + " " + r.Name
	if r.Namespace != "" {
		label += " " + p.styles.faint.Render("("+r.Namespace+")")
	}
	if r.UnsatisfiedRefs > 0 {
		label += " " + p.styles.problem.Render(fmt.Sprintf("%d unresolved", r.UnsatisfiedRefs))
	}
	for _, msg := range r.Diagnostics {
		label += " " + p.styles.problem.Render("! "+msg)
	}
	return label
}
