package logger

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"

	// Everforest dark
	colorTime      = "\x1b[38;5;107m"
	colorComponent = "\x1b[38;5;208m"
	colorID        = "\x1b[38;5;109m"
	colorFg        = "\x1b[38;5;223m"
	colorKey       = "\x1b[38;5;65m"
	colorWarn      = "\x1b[38;5;179m"
	colorWarnBg    = "\x1b[48;5;58m"
	colorError     = "\x1b[38;5;167m"
	colorErrorBg   = "\x1b[48;5;52m"
)

var bufferPool = buffer.NewPool()

// idFields are rendered first and highlighted
var idFields = map[string]bool{
	FieldTraceID:       true,
	FieldContractID:    true,
	FieldRequirementID: true,
	FieldScenarioID:    true,
}

// minimalEncoder is a calm, compact console encoder.
// Format: "13:04:35  pipeline  Certification completed  trace_id=4bf9… contracts=2"
type minimalEncoder struct {
	zapcore.Encoder
	fields []zapcore.Field
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{
		Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	fields := make([]zapcore.Field, len(enc.fields))
	copy(fields, enc.fields)
	return &minimalEncoder{Encoder: enc.Encoder.Clone(), fields: fields}
}

// AddString etc. are routed through With(); zap calls them on a clone with
// the accumulated context fields, which we keep for rendering.
func (enc *minimalEncoder) AddString(key, value string) {
	enc.fields = append(enc.fields, zap.String(key, value))
}

func (enc *minimalEncoder) AddInt64(key string, value int64) {
	enc.fields = append(enc.fields, zap.Int64(key, value))
}

func (enc *minimalEncoder) AddBool(key string, value bool) {
	enc.fields = append(enc.fields, zap.Bool(key, value))
}

func (enc *minimalEncoder) AddFloat64(key string, value float64) {
	enc.fields = append(enc.fields, zap.Float64(key, value))
}

func (enc *minimalEncoder) AddReflected(key string, value interface{}) error {
	enc.fields = append(enc.fields, zap.Any(key, value))
	return nil
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := bufferPool.Get()

	final.AppendString(colorTime)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	if level := levelString(ent.Level); level != "" {
		final.AppendString("  ")
		final.AppendString(level)
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorComponent)
		final.AppendString(ent.LoggerName)
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(colorFg)
	final.AppendString(ent.Message)
	final.AppendString(colorReset)

	all := make([]zapcore.Field, 0, len(enc.fields)+len(fields))
	all = append(all, enc.fields...)
	all = append(all, fields...)
	if rendered := renderFields(all); rendered != "" {
		final.AppendString("  ")
		final.AppendString(rendered)
	}

	final.AppendString("\n")
	return final, nil
}

func levelString(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return "DEBUG"
	case zapcore.WarnLevel:
		return colorBold + colorWarnBg + colorWarn + "WARN" + colorReset
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + colorErrorBg + colorError + level.CapitalString() + colorReset
	default:
		return ""
	}
}

// renderFields prints every field as key=value; identifier fields lead.
func renderFields(fields []zapcore.Field) string {
	if len(fields) == 0 {
		return ""
	}

	ordered := make([]zapcore.Field, len(fields))
	copy(ordered, fields)
	sort.SliceStable(ordered, func(i, j int) bool {
		return idFields[ordered[i].Key] && !idFields[ordered[j].Key]
	})

	parts := make([]string, 0, len(ordered))
	for _, field := range ordered {
		value := fieldValue(field)
		if idFields[field.Key] {
			parts = append(parts, colorKey+field.Key+"="+colorReset+colorID+value+colorReset)
			continue
		}
		parts = append(parts, colorKey+field.Key+"="+colorReset+value)
	}
	return strings.Join(parts, " ")
}

// fieldValue renders a field through zap's map encoder so no type is dropped
func fieldValue(field zapcore.Field) string {
	enc := zapcore.NewMapObjectEncoder()
	field.AddTo(enc)
	value, ok := enc.Fields[field.Key]
	if !ok {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}
