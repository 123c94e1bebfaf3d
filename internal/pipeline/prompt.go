package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/twinsight/internal/model"
)

const analysisRules = `**重要规则**：
1. 全程使用中文回答。
2. 不要输出思考过程、任务复述或英文摘要。
3. 引用参考文档时使用 [N] 格式，N 为下方文档列表中的编号。
4. 不要输出"参考的文档"部分，系统会根据引用自动生成。`

const alertOutputFormat = `## 输出格式
### 1. 可能原因分析
  1) 原因说明
    - 细节
### 2. 建议的处理步骤
  1) 操作说明
    - 注意事项
### 3. 需要检查的设备
  1) 设备类型
    - 设备名称 (编码)`

// BuildPrompt renders the analysis prompt for a subject and its evidence.
// Documents are numbered from 1 in evidence order so the model's [N]
// citations line up with the context fallback.
func BuildPrompt(subj Subject, ev *model.Evidence) string {
	var b strings.Builder

	b.WriteString("你是一名建筑设施运维专家。请结合下列信息与上下文")
	if subj.Kind == SubjectManual {
		b.WriteString("回答用户的问题。\n\n")
	} else {
		b.WriteString("分析报警原因并给出运维建议。\n\n")
	}
	b.WriteString(analysisRules)
	b.WriteString("\n\n")

	switch {
	case subj.Alert != nil:
		writeAlert(&b, subj.Alert)
	case subj.Target != nil:
		writeTarget(&b, subj.Target)
	}
	if subj.Question != "" {
		b.WriteString("## 用户问题\n")
		b.WriteString(subj.Question)
		b.WriteString("\n\n")
	}

	b.WriteString("## 上下文信息\n")
	writeAssets(&b, ev)
	b.WriteString("\n## 可用参考文档\n")
	writeDocuments(&b, ev)

	b.WriteString("\n")
	if subj.Kind == SubjectManual {
		b.WriteString("## 输出格式\n请给出简洁、专业的分析或回答，涉及操作时分步骤说明。")
	} else {
		b.WriteString(alertOutputFormat)
	}
	return b.String()
}

func writeAlert(b *strings.Builder, al *model.Alert) {
	kind := "高温"
	if al.Direction == model.DirectionLow {
		kind = "低温"
	}
	field := al.Field
	if field == "" {
		field = "temperature"
	}
	b.WriteString("## 报警信息\n")
	fmt.Fprintf(b, "- 位置：%s (%s)\n", firstNonEmpty(al.LocationName, al.LocationCode), al.LocationCode)
	fmt.Fprintf(b, "- 监测字段：%s\n", field)
	fmt.Fprintf(b, "- 当前值：%g\n", al.Value)
	fmt.Fprintf(b, "- 报警阈值：%g\n", al.Threshold)
	fmt.Fprintf(b, "- 报警类型：%s报警（%s）\n\n", kind, al.Severity())
}

func writeTarget(b *strings.Builder, t *model.Target) {
	kind := "房间"
	if t.Type == "asset" {
		kind = "设备"
	}
	b.WriteString("## 分析对象\n")
	fmt.Fprintf(b, "- 类型：%s\n", kind)
	fmt.Fprintf(b, "- 名称：%s (%s)\n", t.Name, t.Code)
	if len(t.Properties) > 0 {
		if data, err := json.Marshal(t.Properties); err == nil {
			fmt.Fprintf(b, "- 附加信息：%s\n", truncate(string(data), 500))
		}
	}
	b.WriteString("\n")
}

func writeAssets(b *strings.Builder, ev *model.Evidence) {
	if ev == nil || len(ev.Assets) == 0 {
		b.WriteString("（无设备信息）\n")
		return
	}
	b.WriteString("### 位置内设备\n")
	for _, a := range ev.Assets {
		category := a.Category
		if category == "" {
			category = "其它设备"
		}
		fmt.Fprintf(b, "- %s (%s) [%s]\n", a.Name, a.Code, category)
	}
}

func writeDocuments(b *strings.Builder, ev *model.Evidence) {
	if ev == nil || len(ev.Documents) == 0 {
		b.WriteString("（无相关文档）\n")
		return
	}
	for i, d := range ev.Documents {
		fmt.Fprintf(b, "[%d] %s\n", i+1, d.DisplayName())
	}
}

// truncate cuts s to at most n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
