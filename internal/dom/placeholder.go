// internal/dom/placeholder.go
package dom

import "strings"

// InstallPlaceholder shows the loader image while the transformed image is
// fetched. Images get the loader as their source, everything else as a
// centered background.
func (e *Element) InstallPlaceholder(loaderURL string) {
	if e.IsImage() {
		e.SetAttr("src", loaderURL)
		e.SetStyle("object-fit", "none")
		e.SetStyle("object-position", "center")
		return
	}
	e.SetStyle("background-image", cssURL(loaderURL))
	e.SetStyle("background-position", "50% 50%")
	e.SetStyle("background-repeat", "no-repeat")
}

// ShowImage swaps the placeholder for the final image and clears the
// placeholder-only styling.
func (e *Element) ShowImage(imageURL string) {
	if e.IsImage() {
		e.SetAttr("src", imageURL)
		e.SetStyle("object-fit", "")
		e.SetStyle("object-position", "")
		return
	}
	e.SetStyle("background-image", cssURL(imageURL))
	e.SetStyle("background-position", "")
	e.SetStyle("background-repeat", "")
}

var cssStringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `)

// cssURL quotes u as a CSS url() string.
func cssURL(u string) string {
	return `url("` + cssStringEscaper.Replace(u) + `")`
}
