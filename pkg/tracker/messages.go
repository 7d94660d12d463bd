package tracker

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

var ErrMissingField = errors.New("tracker: missing field")

type VolumeInfo struct {
	Name      string
	Weight    int
	ReadWrite bool
	Used      uint64
	Capacity  uint64
}

type HeartbeatRequest struct {
	NodeID   string
	Group    string
	HTTPAddr string
	Volumes  []VolumeInfo
}

// Weight is the sum of the node's writable volume weights.
func (h HeartbeatRequest) Weight() int {
	total := 0
	for _, v := range h.Volumes {
		if v.ReadWrite && v.Weight > 0 {
			total += v.Weight
		}
	}
	return total
}

type Assignment struct {
	NodeID   string
	HTTPAddr string
}

func (h HeartbeatRequest) ToStruct() (*structpb.Struct, error) {
	vols := make([]any, 0, len(h.Volumes))
	for _, v := range h.Volumes {
		vols = append(vols, map[string]any{
			"name":       v.Name,
			"weight":     v.Weight,
			"read_write": v.ReadWrite,
			"used":       v.Used,
			"capacity":   v.Capacity,
		})
	}
	return structpb.NewStruct(map[string]any{
		"node_id":   h.NodeID,
		"group":     h.Group,
		"http_addr": h.HTTPAddr,
		"volumes":   vols,
	})
}

func HeartbeatFromStruct(s *structpb.Struct) (HeartbeatRequest, error) {
	h := HeartbeatRequest{
		NodeID:   stringField(s, "node_id"),
		Group:    stringField(s, "group"),
		HTTPAddr: stringField(s, "http_addr"),
	}
	if err := requireFields(h.NodeID, "node_id", h.Group, "group", h.HTTPAddr, "http_addr"); err != nil {
		return HeartbeatRequest{}, err
	}

	for _, item := range s.GetFields()["volumes"].GetListValue().GetValues() {
		vs := item.GetStructValue()
		v := VolumeInfo{
			Name:      stringField(vs, "name"),
			Weight:    int(numberField(vs, "weight")),
			ReadWrite: vs.GetFields()["read_write"].GetBoolValue(),
			Used:      uint64(numberField(vs, "used")),
			Capacity:  uint64(numberField(vs, "capacity")),
		}
		if v.Name == "" {
			return HeartbeatRequest{}, fmt.Errorf("%w: volumes[].name", ErrMissingField)
		}
		h.Volumes = append(h.Volumes, v)
	}
	return h, nil
}

func (a Assignment) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"node_id":   a.NodeID,
		"http_addr": a.HTTPAddr,
	})
}

func AssignmentFromStruct(s *structpb.Struct) (Assignment, error) {
	a := Assignment{
		NodeID:   stringField(s, "node_id"),
		HTTPAddr: stringField(s, "http_addr"),
	}
	if err := requireFields(a.HTTPAddr, "http_addr"); err != nil {
		return Assignment{}, err
	}
	return a, nil
}

func assignRequest(group string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"group": group})
}

func locateRequest(group, volume string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"group": group, "volume": volume})
}

// AssignGroup reads the group from an Assign request.
func AssignGroup(s *structpb.Struct) (string, error) {
	group := stringField(s, "group")
	return group, requireFields(group, "group")
}

// LocateTarget reads the group and volume from a Locate request.
func LocateTarget(s *structpb.Struct) (group, volume string, err error) {
	group, volume = stringField(s, "group"), stringField(s, "volume")
	return group, volume, requireFields(group, "group", volume, "volume")
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func numberField(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

// requireFields takes value, name pairs and reports the first empty value.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i] == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, pairs[i+1])
		}
	}
	return nil
}
