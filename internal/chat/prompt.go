package chat

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/twinsight/internal/model"
)

const chatRules = `## 回答规则
1. 使用中文回答，简洁准确。
2. 引用参考文档时使用 [N] 格式，N 为文档列表中的编号。
3. 不要输出"参考的文档"部分，系统会自动生成。
4. 不要编造数据；没有依据时直接说明。`

const temperatureTool = `## 温度查询工具
当需要某个房间或设备的温度历史数据时，在回复中输出：
` + "```action\n{\"action\": \"query_temperature\", \"params\": {\"roomCode\": \"<房间编码>\", \"duration\": \"24h\"}}\n```" + `
duration 支持 Nh、Nd、Nw。系统会返回数据后由你继续回答。`

const maxPropertiesSummary = 500

// systemPrompt renders the system message for one chat turn
func systemPrompt(target *model.Target, ev *model.Evidence, skills *Registry) string {
	var b strings.Builder

	b.WriteString("你是数字孪生运维平台的智能助手，帮助用户理解建筑空间、设备与相关文档。\n\n")

	if target != nil {
		b.WriteString("## 当前选中对象\n")
		kind := "空间"
		if target.Type == "asset" {
			kind = "设备"
		}
		fmt.Fprintf(&b, "- 类型：%s\n", kind)
		fmt.Fprintf(&b, "- 名称：%s\n", target.Name)
		fmt.Fprintf(&b, "- 编码：%s\n", target.Code)
		if summary := propertiesSummary(target.Properties); summary != "" {
			fmt.Fprintf(&b, "- 属性：%s\n", summary)
		}
		b.WriteString("\n")
	}

	if ev != nil && len(ev.Documents) > 0 {
		b.WriteString("## 可用参考文档\n")
		for i, d := range ev.Documents {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, d.DisplayName())
		}
		b.WriteString("\n")
	}

	b.WriteString(chatRules)
	b.WriteString("\n\n")
	b.WriteString(temperatureTool)
	b.WriteString("\n")

	if catalog := skills.Prompt(); catalog != "" {
		b.WriteString("\n")
		b.WriteString(catalog)
	}
	return b.String()
}

// propertiesSummary renders properties as sorted key=value pairs, cut
// to maxPropertiesSummary runes
func propertiesSummary(props map[string]any) string {
	if len(props) == 0 {
		return ""
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := props[k]
		if v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		default:
			data, err := json.Marshal(val)
			if err != nil {
				continue
			}
			s = string(data)
		}
		if s == "" {
			continue
		}
		parts = append(parts, k+"="+s)
	}
	return truncate(strings.Join(parts, "; "), maxPropertiesSummary)
}

// seriesSummary describes fetched data for the model
func seriesSummary(c *model.ChartSeries) string {
	var b strings.Builder
	fmt.Fprintf(&b, "位置 %s 的温度数据（%s 至 %s）：\n",
		c.Tag,
		formatMillis(c.Range.StartMs),
		formatMillis(c.Range.EndMs),
	)
	if c.Stats.Count == 0 {
		b.WriteString("- 该时间段内没有数据\n")
		return b.String()
	}
	fmt.Fprintf(&b, "- 最低：%.1f°C\n- 最高：%.1f°C\n- 平均：%.1f°C\n- 样本数：%d\n",
		c.Stats.Min, c.Stats.Max, c.Stats.Mean, c.Stats.Count)
	return b.String()
}
