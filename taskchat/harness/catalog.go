package harness

import (
	"hash/fnv"
	"strconv"

	ports "github.com/covall/todoist-ai-chat/taskchat/harness/ports"
	"github.com/covall/todoist-ai-chat/taskchat/harness/schema"
)

// AdaptTool converts an advertised tool into a declaration the model accepts.
func AdaptTool(t ports.ToolDescriptor) ports.FunctionDeclaration {
	return ports.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  schema.Clean(t.InputSchema),
	}
}

// BuildDeclarations adapts every tool, keeping catalog order.
func BuildDeclarations(tools []ports.ToolDescriptor) []ports.FunctionDeclaration {
	out := make([]ports.FunctionDeclaration, len(tools))
	for i, t := range tools {
		out[i] = AdaptTool(t)
	}
	return out
}

// catalogFingerprint identifies a catalog's content so a model session built
// for an older catalog can be detected.
func catalogFingerprint(tools []ports.ToolDescriptor) string {
	h := fnv.New64a()
	for _, t := range tools {
		h.Write([]byte(t.Name))
		h.Write([]byte{0})
		h.Write([]byte(t.Description))
		h.Write([]byte{0})
		h.Write([]byte(t.InputSchema.String()))
		h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
