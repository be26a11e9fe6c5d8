package discovery

import (
	"strconv"
	"strings"

	"github.com/cuemby/faux-recon/pkg/config"
	"github.com/cuemby/faux-recon/pkg/types"
)

// defaultPortGroups is the curated port list covering major services: web,
// databases, mail, FTP/SSH, DNS, Docker/K8s, proxies, LDAP, RPC, monitoring,
// VPN, NoSQL, message queues, remote access, caches, search, and dev ports.
var defaultPortGroups = []string{
	"80,443,8080,8443,8888,8000,8081,8082,8083,8084,8085,8086,8087,8088,8089,8090",
	"1433,1434,3306,3307,5432,5433,6379,27017,27018,27019,6380,6381,9200,9300",
	"25,465,587,110,995,143,993",
	"20,21,22,989,990",
	"53,853",
	"2375,2376,2377,4789,7946",
	"6443,8001,8002,10250,10255,10256,2379,2380",
	"3128,8118,9090,9091,9092,8181,8282",
	"1080,1081,9050,9051,9150",
	"389,636",
	"111,135,139,445,1099,1098",
	"161,162,9100,9090,9093,9094",
	"500,4500,1194,1723",
	"7000,7001,7199,9042,8087",
	"5671,5672,15672,61613,61614,61616",
	"9418,443",
	"3389,5900,5901,5902",
	"11211,11212,11213,11214,11215",
	"8983,8984,8985",
	"8000,8080,3000,4200,5000,8008,9000",
}

// DefaultPorts is the comma-joined default port list masscan scans when a
// job does not request --all-ports or an explicit port set.
var DefaultPorts = strings.Join(defaultPortGroups, ",")

// BuildCommand renders the masscan argv for job: proxychains prefix,
// target, UDP/TCP/SYN flags, ports, banners, wait, rate, exclude-file,
// resume.
func BuildCommand(cfg config.Config, job *types.PrimaryJob) []string {
	var cmd []string
	if job.Options.UseProxychains {
		cmd = append(cmd, "proxychains")
	}
	cmd = append(cmd, cfg.MasscanPath)

	if job.Target != "" {
		cmd = append(cmd, job.Target)
	}
	if job.Options.UDP {
		cmd = append(cmd, "-sU")
	}
	if job.Options.TCP {
		cmd = append(cmd, "-sT")
	}
	if !job.Options.UDP && !job.Options.TCP || job.Options.SYN {
		cmd = append(cmd, "-sS")
	}

	if job.Options.AllPorts {
		cmd = append(cmd, "--ports", "1-65535")
	} else if len(job.Ports) > 0 {
		cmd = append(cmd, "--ports", strings.Join(job.Ports, ","))
	} else {
		cmd = append(cmd, "--ports", DefaultPorts)
	}

	cmd = append(cmd, "--banners")

	rate := cfg.MasscanRate
	if job.Options.Rate > 0 {
		rate = job.Options.Rate
	}
	cmd = append(cmd, "--wait", "0", "--rate", strconv.Itoa(rate))
	cmd = append(cmd, "--exclude-file", cfg.MasscanExcludeFile)

	if job.Options.Resume {
		cmd = append(cmd, "--resume")
	}

	return cmd
}
