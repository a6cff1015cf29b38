package mainboilerplate

// ShopConfig is the shop binary's CLI surface, per spec.md §6:
// -d/--debug-level, -i/--inventory, -b/--backup-file-prefix,
// -f/--backup-frequency, -h/--help (handled by go-flags itself).
type ShopConfig struct {
	Log LogConfig `group:"Logging"`

	Inventory        string `long:"inventory" short:"i" required:"true" description:"Path to the FLAVOR,COUNT inventory file"`
	BackupFilePrefix string `long:"backup-file-prefix" short:"b" default:"backup" description:"Filename prefix used for backup snapshots"`
	BackupFrequency  int    `long:"backup-frequency" short:"f" default:"25" description:"Number of Confirm calls between automatic backups"`
	BackupDir        string `long:"backup-dir" default:"." description:"Directory backup snapshots are written to"`

	ListenAddr string `long:"listen" default:"127.0.0.1:9500" description:"Address the shop listens on for robot connections"`
}

// RobotConfig is the robot binary's CLI surface: positional peer_port and
// screen_port, plus the shared peer-port sweep range (spec.md §4.3's
// "[MIN..MAX]", which spec.md leaves as configuration rather than a wire
// constant).
type RobotConfig struct {
	Log LogConfig `group:"Logging"`

	Args struct {
		PeerPort   uint32 `positional-arg-name:"peer_port" description:"Port this robot listens on for other robots"`
		ScreenPort uint32 `positional-arg-name:"screen_port" description:"Port this robot listens on for screens"`
	} `positional-args:"true" required:"true"`

	PeerPortMin uint32 `long:"peer-port-min" default:"10000" description:"Lower bound of the peer-port sweep range"`
	PeerPortMax uint32 `long:"peer-port-max" default:"10010" description:"Upper bound of the peer-port sweep range"`
	ShopAddr    string `long:"shop-addr" default:"127.0.0.1:9500" description:"Address of the shop process"`
}

// ScreenConfig is the screen binary's CLI surface: an optional positional
// orders.csv path.
type ScreenConfig struct {
	Log LogConfig `group:"Logging"`

	Args struct {
		OrdersFile string `positional-arg-name:"orders.csv"`
	} `positional-args:"true"`

	ScreenPortMin uint32 `long:"screen-port-min" default:"11000" description:"Lower bound of the robot screen-port sweep range"`
	ScreenPortMax uint32 `long:"screen-port-max" default:"11010" description:"Upper bound of the robot screen-port sweep range"`
}
