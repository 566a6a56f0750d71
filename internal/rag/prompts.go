package rag

import (
	"strings"
	"text/template"
)

// FallbackAnswer is returned, without calling any model, when nothing can be retrieved.
const FallbackAnswer = "Xin lỗi, tôi chưa được học tài liệu nào. Vui lòng upload PDF trước."

// NoInformationAnswer is what the model is told to say when the context does not cover the question.
const NoInformationAnswer = "Xin lỗi, tôi chưa có thông tin về vấn đề này trong tài liệu."

type promptData struct {
	Context      string
	Input        string
	NoInfoAnswer string
}

var chatTemplate = template.Must(template.New("chat").Parse(`Bạn là Bác sĩ Đông Y chuyên nghiệp với kiến thức sâu rộng.
Chỉ trả lời dựa trên tài liệu tham khảo dưới đây, không dùng kiến thức bên ngoài.

<Tài liệu tham khảo>
{{.Context}}
</Tài liệu tham khảo>

Câu hỏi: "{{.Input}}"

Nếu tài liệu có thông tin liên quan, hãy:
1. Liệt kê các bệnh có thể gặp
2. Đề xuất phác đồ điều trị, bài thuốc (nếu có)
3. Đưa ra lời khuyên về chế độ ăn uống, sinh hoạt

Nếu tài liệu không có thông tin để trả lời, hãy nói: "{{.NoInfoAnswer}}"
`))

var diagnoseTemplate = template.Must(template.New("diagnose").Parse(`Bạn là một Bác sĩ Đông Y (Lương y) thâm niên, uy tín và tận tâm.
Nhiệm vụ của bạn là hỗ trợ chẩn đoán chỉ dựa trên tài liệu y văn được cung cấp dưới đây.

<Tài liệu tham khảo>
{{.Context}}
</Tài liệu tham khảo>

Bệnh nhân mô tả triệu chứng: "{{.Input}}"

Hãy đưa ra câu trả lời chi tiết theo cấu trúc sau:
1. **Chẩn đoán sơ bộ**: Tên bệnh danh, Bát cương (Hàn/Nhiệt, Hư/Thực...).
2. **Biện chứng luận trị**: Giải thích nguyên nhân dựa trên tạng phủ.
3. **Pháp trị & Phương dược**: Đề xuất bài thuốc (nêu rõ các vị thuốc nếu có trong tài liệu).
4. **Lời khuyên**: Chế độ ăn uống, sinh hoạt.

Nếu tài liệu không có thông tin về triệu chứng này, hãy nói trung thực: "{{.NoInfoAnswer}}"
`))

func render(t *template.Template, context, input string) (string, error) {
	var b strings.Builder
	err := t.Execute(&b, promptData{Context: context, Input: input, NoInfoAnswer: NoInformationAnswer})
	return b.String(), err
}
