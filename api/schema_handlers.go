package api

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"net/http"
	"sync"

	"github.com/memcore-dev/memcore/cachestore"
	"github.com/memcore-dev/memcore/coreerr"
	"github.com/memcore-dev/memcore/schema"
)

// cs2Session holds one process's resolved registry address plus its last
// dumped class table, so cs2_identify/cs2_read_field/cs2_inspect don't each
// re-walk the registry from scratch.
type cs2Session struct {
	registryAddr uint64
	moduleBase   uint64
	classes      map[string]schema.Class
}

// cs2Sessions is process-scoped state the schema handlers share; there is no
// lower package for this since schema.Dumper itself is stateless per call.
var (
	cs2Mu       sync.Mutex
	cs2Sessions = map[uint32]*cs2Session{}
)

type cachedSchemaClass struct {
	Name      string              `json:"name"`
	Module    string              `json:"module"`
	Size      uint32              `json:"size"`
	BaseClass string              `json:"base_class"`
	Fields    []cachedSchemaField `json:"fields"`
}

type cachedSchemaField struct {
	Name     string `json:"name"`
	TypeName string `json:"type_name"`
	Offset   uint32 `json:"offset"`
	Size     uint32 `json:"size"`
}

func toCachedClasses(classes []schema.Class) []cachedSchemaClass {
	out := make([]cachedSchemaClass, len(classes))
	for i, c := range classes {
		fields := make([]cachedSchemaField, len(c.Fields))
		for j, f := range c.Fields {
			fields[j] = cachedSchemaField{Name: f.Name, TypeName: f.TypeName, Offset: f.Offset, Size: f.Size}
		}
		out[i] = cachedSchemaClass{Name: c.Name, Module: c.Module, Size: c.Size, BaseClass: c.BaseClass, Fields: fields}
	}
	return out
}

type cs2InitRequest struct {
	PID        uint32 `json:"pid"`
	ModuleBase uint64 `json:"module_base,string"`
	ModuleSize uint32 `json:"module_size"`
	ModuleName string `json:"module_name"`
	ForceRescan bool  `json:"force_rescan"`
}

// handleCS2Init locates the reflection registry, dumps every scope and
// caches the class table RVA-relative under the "schema" kind, keyed the
// same way functions/rtti are.
func (s *Server) handleCS2Init(w http.ResponseWriter, r *http.Request) {
	var req cs2InitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ModuleBase == 0 || req.ModuleSize == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "cs2_init", "module_base"))
		return
	}

	mem := memSourceAdapter(s.memSource(req.PID))

	key := cachestore.Key{Module: req.ModuleName, Size: uint64(req.ModuleSize)}
	var classes []schema.Class

	if !req.ForceRescan && s.store != nil {
		var cached []cachedSchemaClass
		if ok, _ := s.store.Load("schema", key, &cached); ok {
			for _, c := range cached {
				fields := make([]schema.Field, len(c.Fields))
				for i, f := range c.Fields {
					fields[i] = schema.Field{Name: f.Name, TypeName: f.TypeName, Offset: f.Offset, Size: f.Size}
				}
				classes = append(classes, schema.Class{Name: c.Name, Module: c.Module, Size: c.Size, BaseClass: c.BaseClass, Fields: fields})
			}
		}
	}

	registryAddr, err := schema.Locate(mem, req.ModuleBase, req.ModuleSize)
	if err != nil {
		writeError(w, coreerr.Wrap(coreerr.NotFound, "cs2_init", "registry", err))
		return
	}

	if classes == nil {
		dumper := schema.NewDumper(mem, registryAddr)
		classes = dumper.DumpAllDeduplicated(nil)
		if s.store != nil {
			_ = s.store.Save("schema", key, toCachedClasses(classes))
		}
	}

	byName := make(map[string]schema.Class, len(classes))
	for _, c := range classes {
		byName[c.Name] = c
	}

	cs2Mu.Lock()
	cs2Sessions[req.PID] = &cs2Session{registryAddr: registryAddr, moduleBase: req.ModuleBase, classes: byName}
	cs2Mu.Unlock()

	writeData(w, map[string]interface{}{"class_count": len(classes)})
}

func (s *Server) cs2SessionFor(pid uint32) (*cs2Session, error) {
	cs2Mu.Lock()
	defer cs2Mu.Unlock()
	sess, ok := cs2Sessions[pid]
	if !ok {
		return nil, coreerr.New(coreerr.InvalidInput, "cs2", "pid")
	}
	return sess, nil
}

type cs2IdentifyRequest struct {
	PID         uint32 `json:"pid"`
	ClassName   string `json:"class_name"`
}

func (s *Server) handleCS2Identify(w http.ResponseWriter, r *http.Request) {
	var req cs2IdentifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.cs2SessionFor(req.PID)
	if err != nil {
		writeError(w, err)
		return
	}
	class, ok := sess.classes[req.ClassName]
	if !ok {
		writeError(w, coreerr.New(coreerr.NotFound, "cs2_identify", "class_name"))
		return
	}
	writeData(w, classView(class))
}

type cs2ReadFieldRequest struct {
	PID          uint32 `json:"pid"`
	ClassName    string `json:"class_name"`
	FieldName    string `json:"field_name"`
	InstanceAddr uint64 `json:"instance_address,string"`
}

func (s *Server) handleCS2ReadField(w http.ResponseWriter, r *http.Request) {
	var req cs2ReadFieldRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.cs2SessionFor(req.PID)
	if err != nil {
		writeError(w, err)
		return
	}
	class, ok := sess.classes[req.ClassName]
	if !ok {
		writeError(w, coreerr.New(coreerr.NotFound, "cs2_read_field", "class_name"))
		return
	}
	var field *schema.Field
	for i := range class.Fields {
		if class.Fields[i].Name == req.FieldName {
			field = &class.Fields[i]
			break
		}
	}
	if field == nil {
		writeError(w, coreerr.New(coreerr.NotFound, "cs2_read_field", "field_name"))
		return
	}
	if req.InstanceAddr == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "cs2_read_field", "instance_address"))
		return
	}

	mem := s.memSource(req.PID)
	data := mem(req.InstanceAddr+uint64(field.Offset), field.Size)
	if len(data) == 0 {
		writeError(w, coreerr.New(coreerr.ReadFailure, "cs2_read_field", "instance_address"))
		return
	}
	writeData(w, map[string]interface{}{
		"field":     fieldView(*field),
		"raw_bytes": hex.EncodeToString(data),
		"typed":     fieldTypedValue(data, field.TypeName),
	})
}

type cs2InspectRequest struct {
	PID          uint32 `json:"pid"`
	ClassName    string `json:"class_name"`
	InstanceAddr uint64 `json:"instance_address,string"`
}

func (s *Server) handleCS2Inspect(w http.ResponseWriter, r *http.Request) {
	var req cs2InspectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.cs2SessionFor(req.PID)
	if err != nil {
		writeError(w, err)
		return
	}
	class, ok := sess.classes[req.ClassName]
	if !ok {
		writeError(w, coreerr.New(coreerr.NotFound, "cs2_inspect", "class_name"))
		return
	}
	if req.InstanceAddr == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "cs2_inspect", "instance_address"))
		return
	}

	mem := s.memSource(req.PID)
	fieldsOut := make([]map[string]interface{}, 0, len(class.Fields))
	for _, f := range class.Fields {
		data := mem(req.InstanceAddr+uint64(f.Offset), f.Size)
		fieldsOut = append(fieldsOut, map[string]interface{}{
			"field":     fieldView(f),
			"raw_bytes": hex.EncodeToString(data),
			"typed":     fieldTypedValue(data, f.TypeName),
		})
	}
	writeData(w, map[string]interface{}{
		"class":  classView(class),
		"fields": fieldsOut,
	})
}

func classView(c schema.Class) map[string]interface{} {
	fields := make([]map[string]interface{}, len(c.Fields))
	for i, f := range c.Fields {
		fields[i] = fieldView(f)
	}
	return map[string]interface{}{
		"name":       c.Name,
		"module":     c.Module,
		"size":       c.Size,
		"base_class": c.BaseClass,
		"fields":     fields,
	}
}

func fieldView(f schema.Field) map[string]interface{} {
	return map[string]interface{}{
		"name":      f.Name,
		"type_name": f.TypeName,
		"offset":    f.Offset,
		"size":      f.Size,
	}
}

// fieldTypedValue renders raw field bytes under the interpretation its
// declared engine type name implies (float32/float, float64/double, bool).
// Any other value, a 4-byte handle included, is rendered as a little-endian
// unsigned integer when it is 1, 2, 4 or 8 bytes long, and as a hex string
// of its raw bytes otherwise (vectors and other structs).
func fieldTypedValue(data []byte, typeName string) interface{} {
	switch typeName {
	case "float32", "float":
		if len(data) >= 4 {
			return math.Float32frombits(binary.LittleEndian.Uint32(data))
		}
	case "float64", "double":
		if len(data) >= 8 {
			return math.Float64frombits(binary.LittleEndian.Uint64(data))
		}
	case "bool":
		if len(data) >= 1 {
			return data[0] != 0
		}
	}
	switch len(data) {
	case 1:
		return data[0]
	case 2:
		return binary.LittleEndian.Uint16(data)
	case 4:
		return binary.LittleEndian.Uint32(data)
	case 8:
		return binary.LittleEndian.Uint64(data)
	default:
		return hex.EncodeToString(data)
	}
}
