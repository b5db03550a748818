package app

import (
	"path"
	"strings"
)

// Extensions with a dedicated filetype icon in the UI icon set.
var filetypeExtensions = map[string]struct{}{
	"aac": {}, "ai": {}, "bmp": {}, "cs": {}, "css": {}, "csv": {},
	"doc": {}, "docx": {}, "exe": {}, "gif": {}, "heic": {}, "html": {},
	"java": {}, "jpg": {}, "js": {}, "json": {}, "jsx": {}, "key": {},
	"m4p": {}, "md": {}, "mdx": {}, "mov": {}, "mp3": {}, "mp4": {},
	"otf": {}, "pdf": {}, "php": {}, "png": {}, "ppt": {}, "pptx": {},
	"psd": {}, "py": {}, "raw": {}, "rb": {}, "sass": {}, "scss": {},
	"sh": {}, "sql": {}, "svg": {}, "tiff": {}, "tsx": {}, "ttf": {},
	"txt": {}, "wav": {}, "woff": {}, "xls": {}, "xlsx": {}, "xml": {},
	"yml": {},
}

// fileIcon picks the icon hint for a directory entry by extension.
func fileIcon(name string) string {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if _, ok := filetypeExtensions[ext]; ok {
		return "bi-filetype-" + ext
	}
	return "bi-file-earmark"
}
