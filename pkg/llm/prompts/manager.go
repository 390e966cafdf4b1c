// Package prompts renders the prompt templates used for script and
// image generation. Built-in defaults can be overridden per install
// (a template directory) or per room (template bodies from config,
// written with {character_desc}-style placeholders).
package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Template names resolvable through Render.
const (
	ScriptTemplate = "comic_script.tmpl"
	ImageTemplate  = "comic_image.tmpl"
)

// maxDescriptionRunes caps character descriptions injected into
// prompts so a runaway config value cannot crowd out the content.
const maxDescriptionRunes = 400

const builtinScriptTemplate = `你作为虚拟主播二创画师大手子，根据直播内容，绘制直播总结插画。
角色描述：{{.CharacterDesc}}。
风格：多个剪贴画风格分镜（2~4个吧），每个是一个片段场景，
不要有文字，纯默剧，用表情和动作、场景、图标来表现。
下面是一场直播的语音+弹幕文本，请先构思图片并用文字给我，我再拿去绘制图片。整体600个字符以内。只返回各个分镜的文字描述，不要包含任何多余的说明、格式。
{{.HighlightContent}}`

const builtinImageTemplate = `<note>一定要按照给你的参考图还原形象，而不是自己乱画一个动漫角色</note>
<character>{{.CharacterDesc}}</character>
要画得精致，角色要画得帅气、美丽、可爱。
尽量不要有汉字，除非就一两个字。
下面是根据直播内容生成的漫画脚本，请根据这个脚本绘制漫画：
{{.ComicContent}}`

// ScriptData feeds the script template.
type ScriptData struct {
	CharacterDesc    string
	HighlightContent string
}

// ImageData feeds the image template.
type ImageData struct {
	CharacterDesc string
	ComicContent  string
}

// Manager handles loading and rendering of prompt templates.
type Manager struct {
	root *template.Template
}

// NewManager creates a prompt manager with the built-in templates,
// then overlays any .tmpl files found under dir (matched by file
// name). An empty dir keeps just the built-ins.
func NewManager(dir string) (*Manager, error) {
	m := &Manager{root: template.New("root")}

	if _, err := m.root.New(ScriptTemplate).Parse(builtinScriptTemplate); err != nil {
		return nil, fmt.Errorf("parsing builtin script template: %w", err)
	}
	if _, err := m.root.New(ImageTemplate).Parse(builtinImageTemplate); err != nil {
		return nil, fmt.Errorf("parsing builtin image template: %w", err)
	}

	if dir != "" {
		if err := m.loadTemplates(dir); err != nil {
			return nil, fmt.Errorf("loading templates: %w", err)
		}
	}

	return m, nil
}

func (m *Manager) loadTemplates(dir string) error {
	return filepath.Walk(dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if info.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		name := filepath.Base(path)
		if _, err = m.root.New(name).Parse(string(content)); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		return nil
	})
}

// Render executes the named template with the provided data.
func (m *Manager) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.root.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderScript renders the script prompt. A non-empty override body
// (placeholder syntax) takes precedence over the loaded template.
func (m *Manager) RenderScript(override string, data ScriptData) (string, error) {
	data.CharacterDesc = NormalizeCharacterDescription(data.CharacterDesc)
	if override != "" {
		return renderOverride("script_override", override, data)
	}
	return m.Render(ScriptTemplate, data)
}

// RenderImage renders the image prompt. A non-empty override body
// (placeholder syntax) takes precedence over the loaded template.
func (m *Manager) RenderImage(override string, data ImageData) (string, error) {
	data.CharacterDesc = NormalizeCharacterDescription(data.CharacterDesc)
	if override != "" {
		return renderOverride("image_override", override, data)
	}
	return m.Render(ImageTemplate, data)
}

func renderOverride(name, body string, data any) (string, error) {
	t, err := template.New(name).Parse(FromPlaceholders(strings.TrimSpace(body)))
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var placeholderReplacer = strings.NewReplacer(
	"{character_desc}", "{{.CharacterDesc}}",
	"{highlight_content}", "{{.HighlightContent}}",
	"{comic_content}", "{{.ComicContent}}",
)

// FromPlaceholders converts the {character_desc}-style placeholders
// used in config files into template references.
func FromPlaceholders(body string) string {
	return placeholderReplacer.Replace(body)
}

// NormalizeCharacterDescription flattens a description to one line,
// strips angle brackets that would collide with prompt markup and
// caps the length.
func NormalizeCharacterDescription(desc string) string {
	desc = strings.Join(strings.Fields(desc), " ")
	desc = strings.ReplaceAll(desc, "<", "")
	desc = strings.ReplaceAll(desc, ">", "")
	if runes := []rune(desc); len(runes) > maxDescriptionRunes {
		desc = string(runes[:maxDescriptionRunes])
	}
	return desc
}
