package attributes

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// KeyTable lists, per logical field, the attribute keys tried in order.
type KeyTable struct {
	Class      []string `yaml:"class" json:"class"`
	Identifier []string `yaml:"identifier" json:"identifier"`
	FID        []string `yaml:"fid" json:"fid"`
	PHCodeBgy  []string `yaml:"ph_code_bgy" json:"ph_code_bgy"`
	PHCodeReg  []string `yaml:"ph_code_reg" json:"ph_code_reg"`
	PHCodePro  []string `yaml:"ph_code_pro" json:"ph_code_pro"`
	PHCodeMun  []string `yaml:"ph_code_mun" json:"ph_code_mun"`
	RegName    []string `yaml:"reg_name" json:"reg_name"`
	ProName    []string `yaml:"pro_name" json:"pro_name"`
	MunName    []string `yaml:"mun_name" json:"mun_name"`
	BgyName    []string `yaml:"bgy_name" json:"bgy_name"`
	AreaSqm    []string `yaml:"area_sqm" json:"area_sqm"`
	CropName   []string `yaml:"crop_name" json:"crop_name"`
}

func DefaultKeyTable() KeyTable {
	return KeyTable{
		Class:      []string{"class", "Class", "CLASS", "dn", "DN"},
		Identifier: []string{"class", "Class", "dn", "DN", "crop", "Crop", "CROP"},
		FID:        []string{"FID_1", "fid_1", "FID"},
		PHCodeBgy:  []string{"PHCode_Bgy", "phcode_bgy"},
		PHCodeReg:  []string{"PHCode_Reg", "phcode_reg"},
		PHCodePro:  []string{"PHCode_Pro", "phcode_pro"},
		PHCodeMun:  []string{"PHCode_Mun", "phcode_mun"},
		RegName:    []string{"Reg_Name", "reg_name"},
		ProName:    []string{"Pro_Name", "pro_name"},
		MunName:    []string{"Mun_Name", "mun_name"},
		BgyName:    []string{"Bgy_Name", "bgy_name"},
		AreaSqm:    []string{"Area sqm", "Area_sqm", "AreaSqm", "area_sqm"},
		CropName:   []string{"CropName", "cropName", "Crop", "crop"},
	}
}

// LoadKeyTable reads a YAML key table. Fields left empty in the file keep
// their default key lists. An empty path yields the defaults.
func LoadKeyTable(path string) (KeyTable, error) {
	table := DefaultKeyTable()
	if path == "" {
		return table, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return table, err
	}

	var override KeyTable
	if err := yaml.Unmarshal(content, &override); err != nil {
		return KeyTable{}, fmt.Errorf("parse key table: %w", err)
	}
	table.merge(override)

	if len(table.Identifier) == 0 && len(table.Class) == 0 {
		return KeyTable{}, errors.New("key table defines no identifier keys")
	}
	return table, nil
}

func (t *KeyTable) merge(o KeyTable) {
	pick := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	pick(&t.Class, o.Class)
	pick(&t.Identifier, o.Identifier)
	pick(&t.FID, o.FID)
	pick(&t.PHCodeBgy, o.PHCodeBgy)
	pick(&t.PHCodeReg, o.PHCodeReg)
	pick(&t.PHCodePro, o.PHCodePro)
	pick(&t.PHCodeMun, o.PHCodeMun)
	pick(&t.RegName, o.RegName)
	pick(&t.ProName, o.ProName)
	pick(&t.MunName, o.MunName)
	pick(&t.BgyName, o.BgyName)
	pick(&t.AreaSqm, o.AreaSqm)
	pick(&t.CropName, o.CropName)
}
