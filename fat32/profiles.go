package fat32

import (
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// clusterProfile is one rung of the format size ladder: volumes at least
// MinSizeMiB big get SectorsPerCluster-sized clusters.
type clusterProfile struct {
	Name              string `csv:"name"`
	MinSizeMiB        uint64 `csv:"min_size_mib"`
	SectorsPerCluster uint32 `csv:"sectors_per_cluster"`
}

// The ladder follows the conventional FAT32 defaults. Rows are ordered
// largest first; the first row whose threshold the volume meets wins.
const clusterProfilesCSV = `name,min_size_mib,sectors_per_cluster
huge,32768,64
large,16384,32
medium,2048,16
small,512,8
tiny,0,4
`

var clusterProfiles []clusterProfile

func init() {
	reader := strings.NewReader(clusterProfilesCSV)
	err := gocsv.UnmarshalToCallback(
		reader,
		func(row clusterProfile) error {
			for _, existing := range clusterProfiles {
				if existing.Name == row.Name {
					return fmt.Errorf("duplicate cluster profile %q", row.Name)
				}
			}
			clusterProfiles = append(clusterProfiles, row)
			return nil
		},
	)
	if err != nil && err != io.EOF {
		panic(err)
	}
}

// chooseClusterProfile picks the ladder rung for a volume of the given size.
func chooseClusterProfile(totalSectors uint64) clusterProfile {
	sizeMiB := totalSectors * SectorSize / (1024 * 1024)
	for _, p := range clusterProfiles {
		if sizeMiB >= p.MinSizeMiB {
			return p
		}
	}
	return clusterProfiles[len(clusterProfiles)-1]
}
