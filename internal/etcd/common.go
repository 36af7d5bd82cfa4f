package etcd

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.etcd.io/etcd/api/v3/mvccpb"

	"github.com/Sh00ty/projected-grid/internal/models"
)

func mustJsonMarshal(val any) string {
	js, err := json.Marshal(val)
	if err != nil {
		panic(err)
	}
	return string(js)
}

func parseProjectionName(kv *mvccpb.KeyValue) (string, error) {
	key := string(kv.Key)
	name, ok := strings.CutPrefix(key, ProjectionsFolder()+"/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("not found projection name in key: %s", key)
	}
	return name, nil
}

func parseProjection(kv *mvccpb.KeyValue) (string, models.ProjectionData, error) {
	name, err := parseProjectionName(kv)
	if err != nil {
		return "", models.ProjectionData{}, err
	}
	data := models.ProjectionData{}
	err = json.Unmarshal(kv.Value, &data)
	if err != nil {
		return "", models.ProjectionData{}, fmt.Errorf("unmarshaling projection %s: %w", name, err)
	}
	return name, data, nil
}
